package peer

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	"github.com/parlor-chat/parlor/pkg/api"
	"github.com/parlor-chat/parlor/pkg/com"
	peerConfig "github.com/parlor-chat/parlor/pkg/config/peer"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/parlor-chat/parlor/pkg/network/websocket"
	"github.com/pion/webrtc/v4"
)

// Client is one conference participant: it keeps the signaling link to
// the server and one negotiation session per remote member of the
// room.
type Client struct {
	conf    peerConfig.Config
	factory *ApiFactory
	log     *logger.Logger

	// userId and roomId are fixed for the client's lifetime,
	// callbacks read them without the mutex
	userId string
	roomId string

	mu       sync.Mutex
	name     string
	sock     *websocket.WS
	sessions map[string]*Session

	newMedia func() *Media
	send     func(t api.PT, payload any)

	OnChat         func(senderId, text string)
	OnNameChanged  func(userId, name string)
	OnUserJoined   func(userId, name string)
	OnUserLeft     func(userId string)
	OnRemoteTrack  func(userId string, t *webrtc.TrackRemote)
	OnSessionState func(userId string, st State)
	OnRoomFull     func()
}

// NewClient prepares a participant; media may be nil for a receive- and
// data-only client. Connect establishes the links.
func NewClient(conf peerConfig.Config, media func() *Media, log *logger.Logger) (*Client, error) {
	factory, err := NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{
		conf:     conf,
		factory:  factory,
		log:      log,
		userId:   com.NewUid().String(),
		roomId:   conf.Peer.Room,
		name:     conf.Peer.Name,
		sessions: make(map[string]*Session),
		newMedia: media,
	}
	c.send = c.push
	return c, nil
}

func (c *Client) UserId() string { return c.userId }
func (c *Client) RoomId() string { return c.roomId }

func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Connect dials the signaling server and joins the configured room.
func (c *Client) Connect() error {
	address, err := url.Parse(c.conf.Peer.Signaler)
	if err != nil {
		return fmt.Errorf("bad signaler address: %w", err)
	}
	if address.Path == "" || address.Path == "/" {
		address.Path = "/ws"
	}
	sock, err := websocket.NewClient(*address, c.log)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sock = sock
	name := c.name
	c.mu.Unlock()

	sock.OnMessage = func(message []byte, _ error) { c.dispatch(message) }
	sock.Listen()

	c.send(api.JoinRoom, api.JoinRoomRequest{RoomId: c.roomId, UserId: c.userId, UserName: name})
	return nil
}

// Done returns the closing signal of the signaling link, nil before
// Connect.
func (c *Client) Done() chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == nil {
		return nil
	}
	return c.sock.Done
}

func (c *Client) dispatch(message []byte) {
	var in api.In
	if err := json.Unmarshal(message, &in); err != nil {
		c.log.Error().Err(err).Msg("malformed packet")
		return
	}
	c.log.Debug().Str(logger.DirectionField, "←").Msgf("%v", in.T)

	switch in.T {
	case api.RoomJoined:
		rq := api.Unwrap[api.RoomJoinedNotice](in.Payload)
		if rq == nil {
			return
		}
		c.log.Info().Msgf("joined room %v as %v", rq.RoomId, c.userId)
		// the newcomer offers to everyone already present
		for _, m := range rq.Members {
			s := c.session(m.UserId, true)
			if err := s.Start(); err != nil {
				c.log.Error().Err(err).Msgf("offer to %v fail", m.UserId)
			}
		}
	case api.UserJoined:
		rq := api.Unwrap[api.UserJoinedNotice](in.Payload)
		if rq == nil {
			return
		}
		c.log.Info().Msgf("user %v (%v) joined", rq.UserId, rq.UserName)
		// wait for their offer, glare is handled either way
		c.session(rq.UserId, true)
		if c.OnUserJoined != nil {
			c.OnUserJoined(rq.UserId, rq.UserName)
		}
	case api.Offer, api.Answer:
		rq := api.Unwrap[api.SessionSignal](in.Payload)
		if rq == nil || rq.UserId == "" {
			return
		}
		var sdp webrtc.SessionDescription
		if err := json.Unmarshal(rq.Sdp, &sdp); err != nil {
			c.log.Warn().Err(err).Msg("malformed description")
			return
		}
		if err := c.session(rq.UserId, true).HandleDescription(sdp); err != nil {
			c.log.Error().Err(err).Msgf("negotiation with %v fail", rq.UserId)
		}
	case api.IceCandidate:
		rq := api.Unwrap[api.SessionSignal](in.Payload)
		if rq == nil || rq.UserId == "" {
			return
		}
		var candidate webrtc.ICECandidateInit
		if err := json.Unmarshal(rq.Candidate, &candidate); err != nil {
			c.log.Warn().Err(err).Msg("malformed candidate")
			return
		}
		// a candidate may outrun the offer, the session buffers it
		_ = c.session(rq.UserId, true).HandleCandidate(candidate)
	case api.UserLeft:
		rq := api.Unwrap[api.UserLeftNotice](in.Payload)
		if rq == nil {
			return
		}
		c.dropSession(rq.UserId)
		if c.OnUserLeft != nil {
			c.OnUserLeft(rq.UserId)
		}
	case api.NameChanged:
		rq := api.Unwrap[api.NameChangedNotice](in.Payload)
		if rq == nil {
			return
		}
		if c.OnNameChanged != nil {
			c.OnNameChanged(rq.UserId, rq.NewName)
		}
	case api.Chat:
		// relay fallback path, the aux channel is preferred
		rq := api.Unwrap[api.ChatMessage](in.Payload)
		if rq == nil {
			return
		}
		if c.OnChat != nil {
			c.OnChat(rq.UserId, rq.Message)
		}
	case api.RoomFull:
		c.log.Error().Msg("room is full")
		if c.OnRoomFull != nil {
			c.OnRoomFull()
		}
	case api.Error:
		rq := api.Unwrap[api.ErrorNotice](in.Payload)
		if rq != nil {
			c.log.Error().Msgf("server: %v", rq.Reason)
		}
	default:
		c.log.Warn().Msgf("unknown packet %v", in.T)
	}
}

// session returns the negotiation session for the remote id, building
// it on first touch when create is set.
func (c *Client) session(remoteId string, create bool) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.sessions[remoteId]; ok {
		return s
	}
	if !create {
		return nil
	}
	var media *Media
	if c.newMedia != nil {
		media = c.newMedia()
	}
	s := NewSession(c.userId, remoteId, c.factory, media,
		&signalPipe{client: c}, c.conf.Peer.ReconnectGrace, c.log)
	id := remoteId
	s.OnRemoteTrack(func(t *webrtc.TrackRemote) {
		if c.OnRemoteTrack != nil {
			c.OnRemoteTrack(id, t)
		}
	})
	s.OnState(func(st State) {
		if c.OnSessionState != nil {
			c.OnSessionState(id, st)
		}
	})
	s.Aux().OnChat(func(senderId, text string) {
		if c.OnChat != nil {
			c.OnChat(senderId, text)
		}
	})
	s.Aux().OnNameChange(func(senderId, name string) {
		if c.OnNameChanged != nil {
			c.OnNameChanged(senderId, name)
		}
	})
	c.sessions[remoteId] = s
	return s
}

func (c *Client) dropSession(remoteId string) {
	c.mu.Lock()
	s := c.sessions[remoteId]
	delete(c.sessions, remoteId)
	c.mu.Unlock()
	if s != nil {
		s.Close()
	}
}

// SendChat delivers the text over the aux channels when every peer has
// one open and falls back to the signaling relay otherwise. One
// transport per message: the relay reaches the whole room, so mixing
// it with aux sends would double-deliver to open channels.
func (c *Client) SendChat(text string) {
	c.mu.Lock()
	name := c.name
	sessions := make([]*Session, 0, len(c.sessions))
	allOpen := len(c.sessions) > 0
	for _, s := range c.sessions {
		sessions = append(sessions, s)
		if !s.Aux().Open() {
			allOpen = false
		}
	}
	c.mu.Unlock()

	if allOpen {
		for _, s := range sessions {
			s.Aux().SendChat(text)
		}
		return
	}
	c.send(api.Chat, api.ChatMessage{
		RoomId: c.roomId, UserId: c.userId, UserName: name, Message: text,
	})
}

// ChangeName updates the display name everywhere: the room registry
// over signaling and the live sessions over their aux channels.
func (c *Client) ChangeName(name string) {
	c.mu.Lock()
	c.name = name
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	c.send(api.NameChange, api.NameChangeRequest{RoomId: c.roomId, UserId: c.userId, NewName: name})
	for _, s := range sessions {
		s.Aux().SendNameChange(name)
	}
}

// Leave departs the room but keeps the signaling link.
func (c *Client) Leave() {
	c.send(api.LeaveRoom, api.LeaveRoomRequest{RoomId: c.roomId})
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}

// Close leaves the room and drops the signaling link.
func (c *Client) Close() {
	c.Leave()
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		sock.Close()
	}
}

// push writes a packet to the signaling socket, the default behind
// the send hook.
func (c *Client) push(t api.PT, payload any) {
	c.mu.Lock()
	sock := c.sock
	c.mu.Unlock()
	if sock == nil {
		return
	}
	data, err := json.Marshal(api.Out{T: t, Payload: payload})
	if err != nil {
		c.log.Error().Err(err).Msgf("marshal %v fail", t)
		return
	}
	c.log.Debug().Str(logger.DirectionField, "→").Msgf("%v", t)
	sock.Write(data)
}

// signalPipe feeds a session's outbound descriptions and candidates
// into the room relay.
type signalPipe struct {
	client *Client
}

func (p *signalPipe) SendDescription(sdp webrtc.SessionDescription) error {
	raw, err := json.Marshal(sdp)
	if err != nil {
		return err
	}
	t := api.Offer
	if sdp.Type == webrtc.SDPTypeAnswer {
		t = api.Answer
	}
	p.client.send(t, api.SessionSignal{
		RoomId: p.client.roomId,
		UserId: p.client.userId,
		Sdp:    raw,
	})
	return nil
}

func (p *signalPipe) SendCandidate(candidate webrtc.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return err
	}
	p.client.send(api.IceCandidate, api.SessionSignal{
		RoomId:    p.client.roomId,
		UserId:    p.client.userId,
		Candidate: raw,
	})
	return nil
}
