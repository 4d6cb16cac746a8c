package signaler

import (
	"sync"

	"github.com/goccy/go-json"
	"github.com/parlor-chat/parlor/pkg/api"
	"github.com/parlor-chat/parlor/pkg/com"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/network/websocket"
)

// transport is the ordered fire-and-forget write side of a
// connection, *websocket.WS in production.
type transport interface {
	Write(data []byte)
	Close()
}

var _ transport = (*websocket.WS)(nil)

// Session is one live transport connection. It is owned by the hub and
// destroyed on transport disconnect whether or not the client left
// cleanly.
type Session struct {
	id   com.Uid
	sock transport
	log  *logger.Logger

	mu     sync.Mutex
	userId string
	name   string
	room   string
}

func NewSession(sock transport, log *logger.Logger) *Session {
	id := com.NewUid()
	slog := log.Extend(log.With().Str("cid", id.Short()))
	return &Session{id: id, sock: sock, log: slog}
}

func (s *Session) Id() com.Uid { return s.id }

// UserId is the identity-provider id of the connected client,
// falls back to the session id when the client did not supply one.
func (s *Session) UserId() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userId == "" {
		return s.id.String()
	}
	return s.userId
}

func (s *Session) Name() string { s.mu.Lock(); defer s.mu.Unlock(); return s.name }
func (s *Session) Room() string { s.mu.Lock(); defer s.mu.Unlock(); return s.room }

func (s *Session) setIdentity(userId, name string) {
	s.mu.Lock()
	if userId != "" {
		s.userId = userId
	}
	s.name = name
	s.mu.Unlock()
}

func (s *Session) setName(name string) { s.mu.Lock(); s.name = name; s.mu.Unlock() }
func (s *Session) setRoom(room string) { s.mu.Lock(); s.room = room; s.mu.Unlock() }

// Notify queues an outbound packet. Delivery is fire-and-forget:
// the transport write queue preserves order, a dead connection
// drops the message.
func (s *Session) Notify(t api.PT, payload any) { s.Send(api.Out{T: t, Payload: payload}) }

func (s *Session) Send(out api.Out) {
	data, err := json.Marshal(out)
	if err != nil {
		s.log.Error().Err(err).Msgf("outbound %v marshal fail", out.T)
		return
	}
	s.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", out.T)
	s.sock.Write(data)
}

func (s *Session) Disconnect() { s.sock.Close() }
