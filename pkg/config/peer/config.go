package peer

import (
	"time"

	"github.com/parlor-chat/parlor/pkg/config"
	"github.com/parlor-chat/parlor/pkg/config/webrtc"
	flag "github.com/spf13/pflag"
)

type Config struct {
	Peer    Peer
	Webrtc  webrtc.Webrtc
	Version string
}

type Peer struct {
	Debug bool
	// Signaler is the websocket endpoint of the signaling server.
	Signaler string
	Room     string
	Name     string
	// ReconnectGrace bounds the disconnected state before the
	// session is considered lost and closed.
	ReconnectGrace time.Duration
}

var configPath string

func NewConfig() (conf Config) {
	if err := config.LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	conf.Webrtc.AddIceServersEnv()
	if conf.Peer.ReconnectGrace == 0 {
		conf.Peer.ReconnectGrace = 10 * time.Second
	}
	return
}

// ParseFlags overrides the file config with the command line flags.
func (c *Config) ParseFlags() {
	flag.BoolVarP(&c.Peer.Debug, "debug", "d", c.Peer.Debug, "debug mode")
	flag.StringVar(&c.Peer.Signaler, "signaler", c.Peer.Signaler, "signaling server websocket address")
	flag.StringVarP(&c.Peer.Room, "room", "r", c.Peer.Room, "room token to join")
	flag.StringVarP(&c.Peer.Name, "name", "n", c.Peer.Name, "display name")
	flag.StringVar(&configPath, "conf", configPath, "set custom configuration file path")
	flag.Parse()
}
