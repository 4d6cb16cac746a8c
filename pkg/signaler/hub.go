package signaler

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/parlor-chat/parlor/pkg/api"
	"github.com/parlor-chat/parlor/pkg/com"
	signalerConfig "github.com/parlor-chat/parlor/pkg/config/signaler"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/network/websocket"
)

// Hub accepts websocket connections and feeds their packets into the
// room registry.
type Hub struct {
	conf     signalerConfig.Signaler
	up       *websocket.Upgrader
	log      *logger.Logger
	registry *Registry
	sessions com.NetMap[com.Uid, *Session]
	stats    *Metrics
}

func NewHub(conf signalerConfig.Signaler, registry *Registry, stats *Metrics, log *logger.Logger) *Hub {
	return &Hub{
		conf:     conf,
		up:       websocket.NewUpgrader(conf.Origin),
		log:      log,
		registry: registry,
		sessions: com.NewNetMap[com.Uid, *Session](),
		stats:    stats,
	}
}

// handleConnection serves one client connection for its full lifetime.
func (h *Hub) handleConnection(w http.ResponseWriter, r *http.Request) {
	defer func() {
		if err := recover(); err != nil {
			h.log.Error().Msgf("recovered connection handler: %v", err)
		}
	}()

	conn, err := h.up.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("couldn't upgrade the connection")
		return
	}
	sock := websocket.NewServerWithConn(conn, h.log)
	session := NewSession(sock, h.log)
	h.sessions.Add(session)
	h.stats.Sessions.Inc()
	session.log.Debug().Msg("connect")

	sock.OnMessage = func(message []byte, _ error) { h.dispatch(session, message) }
	sock.Listen()
	<-sock.Done

	// implicit leave, same path as an explicit leave-room
	h.registry.Drop(session)
	h.sessions.Remove(session)
	h.stats.Sessions.Dec()
	session.log.Debug().Msg("disconnect")
}

func (h *Hub) dispatch(s *Session, message []byte) {
	var in api.In
	if err := json.Unmarshal(message, &in); err != nil {
		s.log.Error().Err(err).Msg("malformed packet")
		return
	}
	s.log.Debug().Str(logger.DirectionField, "←").Msgf("%v", in.T)

	switch in.T {
	case api.JoinRoom:
		rq := api.Unwrap[api.JoinRoomRequest](in.Payload)
		if rq == nil {
			s.Notify(api.Error, api.ErrorNotice{Reason: "malformed join"})
			return
		}
		// a session is in at most one room
		if prev := s.Room(); prev != "" && prev != rq.RoomId {
			h.registry.Leave(prev, s)
		}
		s.setIdentity(rq.UserId, rq.UserName)
		if err := h.registry.Join(rq.RoomId, s); err == ErrRoomFull {
			s.Notify(api.RoomFull, api.ErrorNotice{Reason: "room is full"})
		} else if err != nil {
			s.Notify(api.Error, api.ErrorNotice{Reason: err.Error()})
		}
	case api.Offer, api.Answer, api.IceCandidate, api.Chat:
		// the payload stays opaque, only the room token is read
		rq := api.Unwrap[api.SessionSignal](in.Payload)
		if rq == nil {
			s.log.Debug().Msgf("%v without a room token, dropped", in.T)
			return
		}
		h.registry.Relay(rq.RoomId, s, in.Relayed())
	case api.NameChange:
		rq := api.Unwrap[api.NameChangeRequest](in.Payload)
		if rq == nil {
			return
		}
		h.registry.Rename(rq.RoomId, s, rq.NewName)
	case api.LeaveRoom:
		rq := api.Unwrap[api.LeaveRoomRequest](in.Payload)
		if rq == nil {
			return
		}
		h.registry.Leave(rq.RoomId, s)
	default:
		s.log.Warn().Msgf("unknown packet %v", in.T)
	}
}
