package peer

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/pion/webrtc/v4"
)

// State is the lifecycle phase of one peer session.
type State uint8

const (
	Idle State = iota
	Negotiating
	Connecting
	Connected
	Disconnected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Negotiating:
		return "negotiating"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Closed:
		return "closed"
	}
	return "unknown"
}

var ErrNegotiationFailure = errors.New("negotiation failure")

// Signaling is the outbound half of the signaling channel.
type Signaling interface {
	SendDescription(sdp webrtc.SessionDescription) error
	SendCandidate(c webrtc.ICECandidateInit) error
}

// peerConn is the slice of *webrtc.PeerConnection the session drives.
type peerConn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	CreateDataChannel(string, *webrtc.DataChannelInit) (*webrtc.DataChannel, error)
	OnICECandidate(func(*webrtc.ICECandidate))
	OnICEConnectionStateChange(func(webrtc.ICEConnectionState))
	OnDataChannel(func(*webrtc.DataChannel))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	SignalingState() webrtc.SignalingState
	Close() error
}

var _ peerConn = (*webrtc.PeerConnection)(nil)

// Session drives the offer/answer exchange and candidate accumulation
// with one remote participant, and reduces transport events to a
// single coarse state signal.
//
// The state callback fires with the session mutex held: it must not
// call back into the session.
type Session struct {
	localId  string
	remoteId string
	// the polite side yields in an offer collision
	polite bool

	mu          sync.Mutex
	state       State
	epoch       uint64
	conn        peerConn
	pending     []webrtc.ICECandidateInit
	hasRemote   bool
	makingOffer bool
	grace       *time.Timer

	graceDur time.Duration
	newConn  func() (peerConn, error)
	out      Signaling
	media    *Media
	aux      *AuxChannel

	onState       func(State)
	onRemoteTrack func(*webrtc.TrackRemote)
	log           *logger.Logger
}

// NewSession creates the controller for one remote participant.
// The media controller may be nil for a data-only session.
func NewSession(localId, remoteId string, factory *ApiFactory, media *Media, out Signaling, graceDur time.Duration, log *logger.Logger) *Session {
	s := &Session{
		localId:  localId,
		remoteId: remoteId,
		polite:   strings.Compare(localId, remoteId) < 0,
		graceDur: graceDur,
		out:      out,
		media:    media,
		aux:      NewAuxChannel(localId, log),
		log:      log.Extend(log.With().Str("peer", remoteId)),
	}
	s.newConn = func() (peerConn, error) { return factory.NewPeer() }
	return s
}

func (s *Session) State() State     { s.mu.Lock(); defer s.mu.Unlock(); return s.state }
func (s *Session) Polite() bool     { return s.polite }
func (s *Session) Aux() *AuxChannel { return s.aux }

func (s *Session) OnState(fn func(State))                     { s.onState = fn }
func (s *Session) OnRemoteTrack(fn func(*webrtc.TrackRemote)) { s.onRemoteTrack = fn }

// Start makes this side the offerer. Called when the remote
// participant is (or becomes) present in the room.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if err := s.ensureConn(true); err != nil {
		s.mu.Unlock()
		return err
	}
	s.makingOffer = true
	epoch := s.epoch
	conn := s.conn
	s.mu.Unlock()

	// the create call is async relative to the session: its result
	// must not resurrect a torn-down or renegotiated connection
	offer, err := conn.CreateOffer(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state == Closed {
		s.log.Debug().Msg("stale offer discarded")
		return nil
	}
	if err != nil {
		return s.fail(err)
	}
	if err = conn.SetLocalDescription(offer); err != nil {
		return s.fail(err)
	}
	s.transition(Negotiating)
	if err = s.out.SendDescription(offer); err != nil {
		return s.fail(err)
	}
	return nil
}

// HandleDescription applies a remote offer or answer.
func (s *Session) HandleDescription(sdp webrtc.SessionDescription) error {
	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		return s.handleOffer(sdp)
	case webrtc.SDPTypeAnswer:
		return s.handleAnswer(sdp)
	default:
		return ErrNegotiationFailure
	}
}

func (s *Session) handleOffer(sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	if s.state == Closed {
		s.mu.Unlock()
		return nil
	}
	if err := s.ensureConn(false); err != nil {
		s.mu.Unlock()
		return err
	}
	collision := s.makingOffer || s.conn.SignalingState() != webrtc.SignalingStateStable
	if collision {
		if !s.polite {
			// the impolite side proceeds with its own offer and
			// expects the remote to yield
			s.log.Debug().Msg("glare: inbound offer ignored")
			s.mu.Unlock()
			return nil
		}
		s.log.Debug().Msg("glare: rolling back own offer")
		if err := s.conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			err = s.fail(err)
			s.mu.Unlock()
			return err
		}
		s.makingOffer = false
	}
	if err := s.applyRemote(sdp); err != nil {
		s.mu.Unlock()
		return err
	}
	epoch := s.epoch
	conn := s.conn
	s.mu.Unlock()

	answer, err := conn.CreateAnswer(nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.epoch != epoch || s.state == Closed {
		s.log.Debug().Msg("stale answer discarded")
		return nil
	}
	if err != nil {
		return s.fail(err)
	}
	if err = conn.SetLocalDescription(answer); err != nil {
		return s.fail(err)
	}
	s.transition(Connecting)
	if err = s.out.SendDescription(answer); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) handleAnswer(sdp webrtc.SessionDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed || s.conn == nil {
		return nil
	}
	s.makingOffer = false
	if err := s.applyRemote(sdp); err != nil {
		return err
	}
	s.transition(Connecting)
	return nil
}

// applyRemote sets the remote description and flushes candidates that
// arrived ahead of it, in their arrival order. Lock held.
func (s *Session) applyRemote(sdp webrtc.SessionDescription) error {
	if err := s.conn.SetRemoteDescription(sdp); err != nil {
		return s.fail(err)
	}
	s.hasRemote = true
	for _, c := range s.pending {
		if err := s.conn.AddICECandidate(c); err != nil {
			s.log.Warn().Err(err).Msg("buffered candidate rejected")
		}
	}
	s.pending = nil
	return nil
}

// HandleCandidate applies a remote ICE candidate, buffering it when
// the remote description is not set yet. An early candidate is never
// dropped.
func (s *Session) HandleCandidate(c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return nil
	}
	if s.conn == nil || !s.hasRemote {
		s.pending = append(s.pending, c)
		return nil
	}
	if err := s.conn.AddICECandidate(c); err != nil {
		s.log.Warn().Err(err).Msg("candidate rejected")
	}
	return nil
}

// Close tears the session down: terminal, idempotent. Local media is
// released synchronously so camera and microphone are never leaked
// past this call.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.state == Closed {
		return
	}
	s.epoch++
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	s.aux.close()
	if s.media != nil {
		s.media.Release()
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	s.pending = nil
	s.hasRemote = false
	s.makingOffer = false
	s.transition(Closed)
}

func (s *Session) fail(err error) error {
	s.log.Error().Err(err).Msg("negotiation fail")
	s.closeLocked()
	return errors.Join(ErrNegotiationFailure, err)
}

// ensureConn lazily builds the underlying connection and wires its
// callbacks. Lock held. The offerer also opens the aux data channel,
// the answerer accepts it.
func (s *Session) ensureConn(offerer bool) error {
	if s.conn != nil {
		return nil
	}
	conn, err := s.newConn()
	if err != nil {
		return s.fail(err)
	}
	s.conn = conn
	s.transition(Negotiating)

	conn.OnICECandidate(func(ice *webrtc.ICECandidate) {
		if ice == nil {
			// gathering finished
			return
		}
		if err := s.out.SendCandidate(ice.ToJSON()); err != nil {
			s.log.Warn().Err(err).Msg("candidate send fail")
		}
	})
	conn.OnICEConnectionStateChange(func(st webrtc.ICEConnectionState) { s.handleICEState(st) })
	conn.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.log.Debug().Msgf("remote [%s] track", t.Kind())
		if s.onRemoteTrack != nil {
			s.onRemoteTrack(t)
		}
	})

	if s.media != nil {
		if err = s.media.attach(func(t webrtc.TrackLocal) (trackSender, error) { return conn.AddTrack(t) }); err != nil {
			return s.fail(err)
		}
	}
	if offerer {
		// ordered and reliable by default
		dc, err := conn.CreateDataChannel(auxLabel, nil)
		if err != nil {
			return s.fail(err)
		}
		if dc != nil {
			s.aux.bind(dc)
		}
	} else {
		conn.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == auxLabel {
				s.aux.bind(dc)
			}
		})
	}
	return nil
}

func (s *Session) handleICEState(st webrtc.ICEConnectionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Closed {
		return
	}
	s.log.Debug().Str(".state", st.String()).Msg("ICE")
	switch st {
	case webrtc.ICEConnectionStateChecking:
		s.transition(Connecting)
	case webrtc.ICEConnectionStateConnected, webrtc.ICEConnectionStateCompleted:
		if s.grace != nil {
			s.grace.Stop()
			s.grace = nil
		}
		s.transition(Connected)
	case webrtc.ICEConnectionStateDisconnected:
		s.transition(Disconnected)
		// bounded wait for self-recovery before giving up
		if s.grace != nil {
			s.grace.Stop()
		}
		epoch := s.epoch
		s.grace = time.AfterFunc(s.graceDur, func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.epoch == epoch && s.state == Disconnected {
				s.log.Info().Msgf("no recovery within %v", s.graceDur)
				s.closeLocked()
			}
		})
	case webrtc.ICEConnectionStateFailed, webrtc.ICEConnectionStateClosed:
		s.closeLocked()
	}
}

// transition moves the state machine forward. Closed is terminal.
// Lock held.
func (s *Session) transition(st State) {
	if s.state == st || (s.state == Closed && st != Closed) {
		return
	}
	// re-negotiation does not walk a connection back
	if st == Negotiating && s.state > Negotiating && s.state < Disconnected {
		return
	}
	s.state = st
	s.log.Debug().Msgf("state %v", st)
	if s.onState != nil {
		s.onState(st)
	}
}
