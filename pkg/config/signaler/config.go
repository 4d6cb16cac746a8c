package signaler

import (
	"time"

	"github.com/parlor-chat/parlor/pkg/config"
	"github.com/parlor-chat/parlor/pkg/config/monitoring"
	"github.com/parlor-chat/parlor/pkg/config/shared"
	flag "github.com/spf13/pflag"
)

type Config struct {
	Signaler Signaler
	Version  string
}

type Signaler struct {
	Debug bool
	// Origin restricts websocket upgrades to the given Origin
	// header value, * allows any, empty keeps the same-origin
	// default.
	Origin     string
	Server     shared.Server
	Monitoring monitoring.Config
	Rooms      Rooms
}

// Rooms controls room registry behavior.
type Rooms struct {
	// MaxMembers caps room membership, 0 means unlimited.
	// The registry itself is topology-agnostic, the cap is
	// a product decision for 1:1 calling.
	MaxMembers int
	// Retention is how long an idle room may linger before
	// the periodic sweep removes it. Empty rooms are removed
	// synchronously on last-member departure regardless.
	Retention time.Duration
	// SweepInterval is the sweep period, 0 disables the sweep.
	SweepInterval time.Duration
}

// allows custom config path
var configPath string

func NewConfig() (conf Config) {
	if err := config.LoadConfig(&conf, configPath); err != nil {
		panic(err)
	}
	return
}

// ParseFlags overrides the file config with the command line flags.
func (c *Config) ParseFlags() {
	c.Signaler.Server.WithFlags(flag.CommandLine)
	flag.BoolVarP(&c.Signaler.Debug, "debug", "d", c.Signaler.Debug, "debug mode")
	flag.IntVar(&c.Signaler.Monitoring.Port, "monitoring.port", c.Signaler.Monitoring.Port, "monitoring server port")
	flag.IntVar(&c.Signaler.Rooms.MaxMembers, "rooms.max", c.Signaler.Rooms.MaxMembers, "room membership cap (0 = unlimited)")
	flag.StringVar(&configPath, "conf", configPath, "set custom configuration file path")
	flag.Parse()
}
