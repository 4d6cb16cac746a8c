package main

import (
	goflag "flag"

	config "github.com/parlor-chat/parlor/pkg/config/peer"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/os"
	"github.com/parlor-chat/parlor/pkg/peer"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Peer.Debug, "p", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	// headless capture: static sample tracks stand in for devices
	media := func() *peer.Media {
		m := peer.NewMedia(
			peer.NewStaticSource("camera", true, true),
			func() (peer.Source, error) { return peer.NewStaticSource("screen", true, false), nil },
			log,
		)
		// device refusal is fatal, the join is aborted
		if err := m.Acquire(); err != nil {
			log.Fatal().Err(err).Msg("media acquire fail")
		}
		return m
	}

	client, err := peer.NewClient(conf, media, log)
	if err != nil {
		log.Fatal().Err(err).Msg("client init fail")
	}
	client.OnChat = func(senderId, text string) { log.Info().Msgf("[%s] %s", senderId, text) }
	client.OnNameChanged = func(userId, name string) { log.Info().Msgf("%s is now %s", userId, name) }
	client.OnSessionState = func(userId string, st peer.State) {
		log.Info().Msgf("session with %s: %v", userId, st)
	}

	if err := client.Connect(); err != nil {
		log.Fatal().Err(err).Msg("signaler connect fail")
	}
	defer client.Close()

	select {
	case <-os.ExpectTermination():
	case <-client.Done():
		log.Info().Msg("signaling link lost")
	}
}
