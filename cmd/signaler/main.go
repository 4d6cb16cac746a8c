package main

import (
	"context"
	goflag "flag"

	config "github.com/parlor-chat/parlor/pkg/config/signaler"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/os"
	"github.com/parlor-chat/parlor/pkg/signaler"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewConfig()
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	conf.ParseFlags()

	log := logger.NewConsole(conf.Signaler.Debug, "sig", false)

	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	s, err := signaler.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("signaler init fail")
	}
	s.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		if err := s.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("service shutdown errors")
		}
	}()
	<-os.ExpectTermination()
	cancel()
}
