package httpx

import (
	"time"

	"github.com/parlor-chat/parlor/pkg/config/shared"
	"github.com/parlor-chat/parlor/pkg/logger"
)

type Options struct {
	Https       bool
	HttpsCert   string
	HttpsKey    string
	HttpsDomain string

	IdleTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger *logger.Logger
}

type Option = func(*Options)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

// WithServerConfig applies the shared server config section.
func WithServerConfig(conf shared.Server) Option {
	return func(o *Options) {
		o.Https = conf.Https
		o.HttpsCert = conf.Tls.HttpsCert
		o.HttpsKey = conf.Tls.HttpsKey
		o.HttpsDomain = conf.Tls.Domain
	}
}

func WithLogger(log *logger.Logger) Option { return func(o *Options) { o.Logger = log } }

// IsAutoHttpsCert tells if the TLS certificate should be
// provisioned automatically.
func (o *Options) IsAutoHttpsCert() bool { return o.Https && o.HttpsCert == "" && o.HttpsKey == "" }
