package signaler

import (
	"context"
	"net/http"

	signalerConfig "github.com/parlor-chat/parlor/pkg/config/signaler"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/monitoring"
	"github.com/parlor-chat/parlor/pkg/network/httpx"
	"github.com/parlor-chat/parlor/pkg/service"
	"github.com/prometheus/client_golang/prometheus"
)

// Signaler is the signaling server: room registry, message relay and
// presence notifications over a websocket endpoint.
type Signaler struct {
	conf     signalerConfig.Config
	log      *logger.Logger
	registry *Registry
	services service.Group
	server   *httpx.Server
}

func New(conf signalerConfig.Config, log *logger.Logger) (*Signaler, error) {
	stats := NewMetrics(prometheus.DefaultRegisterer)
	registry := NewRegistry(conf.Signaler.Rooms, stats, log)
	hub := NewHub(conf.Signaler, registry, stats, log)

	server, err := httpx.NewServer(
		conf.Signaler.Server.GetAddr(),
		func(*httpx.Server) http.Handler {
			h := http.NewServeMux()
			h.HandleFunc("/ws", hub.handleConnection)
			h.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			return h
		},
		httpx.WithServerConfig(conf.Signaler.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		return nil, err
	}

	s := &Signaler{conf: conf, log: log, registry: registry, server: server}
	s.services.Add(server)
	s.services.AddIf(conf.Signaler.Monitoring.IsEnabled(),
		monitoring.New(conf.Signaler.Monitoring, "sig", log))
	return s, nil
}

func (s *Signaler) Start() {
	s.registry.StartSweep()
	s.services.Start()
}

func (s *Signaler) Shutdown(ctx context.Context) error {
	s.registry.StopSweep()
	return s.services.Shutdown(ctx)
}
