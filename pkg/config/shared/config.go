package shared

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Server struct {
	Address string
	Https   bool
	Tls     struct {
		Address string
		Domain  string
		HttpsKey,
		HttpsCert string
	}
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

func (s *Server) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Address, "address", s.Address, "server address (host:port)")
}

func (s *Server) String() string { return fmt.Sprintf("server:%s https:%v", s.Address, s.Https) }
