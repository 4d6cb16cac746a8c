package signaler

import (
	"errors"
	"sync"
	"time"

	"github.com/parlor-chat/parlor/pkg/api"
	"github.com/parlor-chat/parlor/pkg/com"
	signalerConfig "github.com/parlor-chat/parlor/pkg/config/signaler"
	"github.com/parlor-chat/parlor/pkg/logger"
)

var ErrRoomFull = errors.New("room is full")

// Room is a rendezvous namespace created implicitly on first join and
// destroyed when its membership reaches zero.
type room struct {
	id      string
	created time.Time
	members map[com.Uid]*Session
}

// Registry owns the room -> members mapping. Handlers run on
// per-connection goroutines, so every mutation goes through the
// registry mutex. Member notifications happen outside the lock; a
// sender's messages stay ordered because each session has a single
// reader goroutine and each receiver a single ordered write queue.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	conf  signalerConfig.Rooms
	log   *logger.Logger
	stats *Metrics
	done  chan struct{}
}

func NewRegistry(conf signalerConfig.Rooms, stats *Metrics, log *logger.Logger) *Registry {
	return &Registry{
		rooms: make(map[string]*room, 10),
		conf:  conf,
		log:   log,
		stats: stats,
		done:  make(chan struct{}),
	}
}

// Join adds the session to the room, creating the room on demand.
// The joiner receives the member list as it was before the join,
// everyone else gets a join notice.
func (r *Registry) Join(roomId string, s *Session) error {
	if roomId == "" {
		return errors.New("empty room token")
	}
	r.mu.Lock()
	rm, ok := r.rooms[roomId]
	if !ok {
		rm = &room{id: roomId, created: time.Now(), members: make(map[com.Uid]*Session, 2)}
		r.rooms[roomId] = rm
		r.stats.Rooms.Inc()
	}
	// the cap never applies to a member re-sending its own join
	if _, member := rm.members[s.Id()]; !member &&
		r.conf.MaxMembers > 0 && len(rm.members) >= r.conf.MaxMembers {
		if !ok {
			// unreachable with a sane cap, but don't leak the room
			delete(r.rooms, roomId)
			r.stats.Rooms.Dec()
		}
		r.mu.Unlock()
		return ErrRoomFull
	}
	was := make([]api.Member, 0, len(rm.members))
	others := make([]*Session, 0, len(rm.members))
	for id, m := range rm.members {
		if id == s.Id() {
			// repeated join of the same room
			continue
		}
		was = append(was, api.Member{UserId: m.UserId(), UserName: m.Name()})
		others = append(others, m)
	}
	rm.members[s.Id()] = s
	s.setRoom(roomId)
	r.mu.Unlock()

	r.stats.Joins.Inc()
	s.log.Info().Str("room", roomId).Msgf("join (%d in room)", len(was)+1)
	s.Notify(api.RoomJoined, api.RoomJoinedNotice{RoomId: roomId, UserId: s.UserId(), Members: was})
	notice := api.UserJoinedNotice{UserId: s.UserId(), UserName: s.Name()}
	for _, m := range others {
		m.Notify(api.UserJoined, notice)
	}
	return nil
}

// Leave removes the session from the room and garbage-collects the
// room when it empties. Idempotent: leaving twice or after a
// disconnect already removed the session is a no-op.
func (r *Registry) Leave(roomId string, s *Session) {
	if roomId == "" || s.Room() != roomId {
		return
	}
	r.mu.Lock()
	rm, ok := r.rooms[roomId]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, member := rm.members[s.Id()]; !member {
		r.mu.Unlock()
		return
	}
	delete(rm.members, s.Id())
	s.setRoom("")
	var rest []*Session
	if len(rm.members) == 0 {
		delete(r.rooms, roomId)
		r.stats.Rooms.Dec()
	} else {
		rest = make([]*Session, 0, len(rm.members))
		for _, m := range rm.members {
			rest = append(rest, m)
		}
	}
	r.mu.Unlock()

	r.stats.Leaves.Inc()
	s.log.Info().Str("room", roomId).Msg("leave")
	notice := api.UserLeftNotice{UserId: s.UserId()}
	for _, m := range rest {
		m.Notify(api.UserLeft, notice)
	}
}

// Drop performs the implicit leave on transport close.
func (r *Registry) Drop(s *Session) { r.Leave(s.Room(), s) }

// Relay forwards the packet unmodified to every current room member
// except the sender. Messages to torn-down rooms or from non-members
// are dropped without an error toward the sender.
func (r *Registry) Relay(roomId string, sender *Session, out api.Out) {
	r.mu.Lock()
	rm, ok := r.rooms[roomId]
	if !ok {
		r.mu.Unlock()
		r.drop(roomId, sender, out, "no room")
		return
	}
	if _, member := rm.members[sender.Id()]; !member {
		r.mu.Unlock()
		r.drop(roomId, sender, out, "not a member")
		return
	}
	targets := make([]*Session, 0, len(rm.members)-1)
	for id, m := range rm.members {
		if id != sender.Id() {
			targets = append(targets, m)
		}
	}
	r.mu.Unlock()

	r.stats.Relayed.WithLabelValues(out.T.String()).Inc()
	for _, m := range targets {
		m.Send(out)
	}
}

// Rename updates the stored display name and relays the change to the
// other room members.
func (r *Registry) Rename(roomId string, sender *Session, newName string) {
	sender.setName(newName)
	r.Relay(roomId, sender, api.Out{
		T:       api.NameChanged,
		Payload: api.NameChangedNotice{UserId: sender.UserId(), NewName: newName},
	})
}

func (r *Registry) drop(roomId string, sender *Session, out api.Out, reason string) {
	r.stats.Dropped.Inc()
	sender.log.Debug().Str("room", roomId).Msgf("%v dropped: %s", out.T, reason)
}

// RoomCount reports the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// MemberCount reports the membership of a room, 0 for a missing room.
func (r *Registry) MemberCount(roomId string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomId]; ok {
		return len(rm.members)
	}
	return 0
}

// StartSweep runs the periodic idle-room cleanup. This is advisory
// housekeeping: empty rooms are already removed synchronously on
// last-member departure.
func (r *Registry) StartSweep() {
	if r.conf.SweepInterval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(r.conf.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.sweep(time.Now())
			case <-r.done:
				return
			}
		}
	}()
}

func (r *Registry) StopSweep() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	var stale []string
	for id, rm := range r.rooms {
		if len(rm.members) == 0 && now.Sub(rm.created) > r.conf.Retention {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(r.rooms, id)
		r.stats.Rooms.Dec()
	}
	r.mu.Unlock()
	if len(stale) > 0 {
		r.log.Info().Msgf("swept %d stale rooms", len(stale))
	}
}
