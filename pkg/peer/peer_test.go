package peer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/pion/webrtc/v4"
)

type fakeConn struct {
	mu        sync.Mutex
	sigState  webrtc.SignalingState
	local     []webrtc.SessionDescription
	remote    []webrtc.SessionDescription
	added     []webrtc.ICECandidateInit
	closed    bool
	onIce     func(*webrtc.ICECandidate)
	onIceConn func(webrtc.ICEConnectionState)

	offerErr error
	// onCreateOffer runs between CreateOffer and the result being
	// applied, with the session lock released
	onCreateOffer func()
}

func (f *fakeConn) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	if f.onCreateOffer != nil {
		f.onCreateOffer()
	}
	if f.offerErr != nil {
		return webrtc.SessionDescription{}, f.offerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}, nil
}

func (f *fakeConn) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}, nil
}

func (f *fakeConn) SetLocalDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = append(f.local, sdp)
	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		f.sigState = webrtc.SignalingStateHaveLocalOffer
	case webrtc.SDPTypeRollback, webrtc.SDPTypeAnswer:
		f.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeConn) SetRemoteDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.remote = append(f.remote, sdp)
	switch sdp.Type {
	case webrtc.SDPTypeOffer:
		f.sigState = webrtc.SignalingStateHaveRemoteOffer
	case webrtc.SDPTypeAnswer:
		f.sigState = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeConn) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, c)
	return nil
}

func (f *fakeConn) AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error) { return nil, nil }
func (f *fakeConn) CreateDataChannel(string, *webrtc.DataChannelInit) (*webrtc.DataChannel, error) {
	return nil, nil
}
func (f *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidate)) { f.onIce = fn }
func (f *fakeConn) OnICEConnectionStateChange(fn func(webrtc.ICEConnectionState)) {
	f.onIceConn = fn
}
func (f *fakeConn) OnDataChannel(func(*webrtc.DataChannel))                {}
func (f *fakeConn) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {}

func (f *fakeConn) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sigState
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeOut struct {
	mu         sync.Mutex
	sdp        []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
}

func (f *fakeOut) SendDescription(sdp webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sdp = append(f.sdp, sdp)
	return nil
}

func (f *fakeOut) SendCandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates = append(f.candidates, c)
	return nil
}

func newTestSession(localId, remoteId string, conn *fakeConn, out *fakeOut) *Session {
	// a fresh connection reports Stable; the type's zero value is Unknown
	conn.sigState = webrtc.SignalingStateStable
	s := NewSession(localId, remoteId, nil, nil, out, 25*time.Millisecond, logger.Default())
	s.newConn = func() (peerConn, error) { return conn, nil }
	return s
}

func TestPoliteness(t *testing.T) {
	if s := newTestSession("aaa", "bbb", &fakeConn{}, &fakeOut{}); !s.Polite() {
		t.Errorf("the lower id should be polite")
	}
	if s := newTestSession("bbb", "aaa", &fakeConn{}, &fakeOut{}); s.Polite() {
		t.Errorf("the higher id should be impolite")
	}
}

func TestOffererFlow(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if s.State() != Negotiating {
		t.Errorf("state = %v, want negotiating", s.State())
	}
	if len(out.sdp) != 1 || out.sdp[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("sent = %v, want one offer", out.sdp)
	}

	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote"}
	if err := s.HandleDescription(answer); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if s.State() != Connecting {
		t.Errorf("state = %v, want connecting", s.State())
	}
	if len(conn.remote) != 1 || conn.remote[0].SDP != "remote" {
		t.Errorf("remote descriptions = %v", conn.remote)
	}
}

func TestAnswererFlow(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("bbb", "aaa", conn, out)

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}
	if err := s.HandleDescription(offer); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if s.State() != Connecting {
		t.Errorf("state = %v, want connecting", s.State())
	}
	if len(out.sdp) != 1 || out.sdp[0].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent = %v, want one answer", out.sdp)
	}
}

func TestGlarePoliteRollsBack(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	// a remote offer crosses ours on the wire
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}
	if err := s.HandleDescription(offer); err != nil {
		t.Fatalf("colliding offer: %v", err)
	}

	var rolledBack bool
	for _, d := range conn.local {
		if d.Type == webrtc.SDPTypeRollback {
			rolledBack = true
		}
	}
	if !rolledBack {
		t.Errorf("the polite side should roll back its own offer")
	}
	// offer first, then the answer to the winning remote offer
	if len(out.sdp) != 2 || out.sdp[1].Type != webrtc.SDPTypeAnswer {
		t.Fatalf("sent = %v, want offer then answer", out.sdp)
	}
	if s.State() == Closed {
		t.Errorf("glare must not kill the session")
	}
}

func TestGlareImpoliteIgnoresOffer(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("bbb", "aaa", conn, out)

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}
	if err := s.HandleDescription(offer); err != nil {
		t.Fatalf("colliding offer: %v", err)
	}

	if len(conn.remote) != 0 {
		t.Errorf("the impolite side must not apply the colliding offer")
	}
	// only our own offer went out, no answer
	if len(out.sdp) != 1 || out.sdp[0].Type != webrtc.SDPTypeOffer {
		t.Fatalf("sent = %v, want just the offer", out.sdp)
	}
}

func TestEarlyCandidatesBufferedInOrder(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("bbb", "aaa", conn, out)

	early := []webrtc.ICECandidateInit{
		{Candidate: "c1"}, {Candidate: "c2"}, {Candidate: "c3"},
	}
	for _, c := range early {
		if err := s.HandleCandidate(c); err != nil {
			t.Fatalf("buffering: %v", err)
		}
	}
	if len(conn.added) != 0 {
		t.Fatalf("candidates applied before the remote description")
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote"}
	if err := s.HandleDescription(offer); err != nil {
		t.Fatalf("offer: %v", err)
	}
	if len(conn.added) != len(early) {
		t.Fatalf("applied %d candidates, want %d", len(conn.added), len(early))
	}
	for i, c := range early {
		if conn.added[i].Candidate != c.Candidate {
			t.Errorf("candidate %d = %q, want %q", i, conn.added[i].Candidate, c.Candidate)
		}
	}

	// late candidates go straight through
	if err := s.HandleCandidate(webrtc.ICECandidateInit{Candidate: "c4"}); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if got := conn.added[len(conn.added)-1].Candidate; got != "c4" {
		t.Errorf("last candidate = %q, want c4", got)
	}
}

func TestStaleOfferDiscardedAfterClose(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)
	// the session is torn down while the async create is in flight
	conn.onCreateOffer = func() { s.Close() }

	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(out.sdp) != 0 {
		t.Errorf("a stale offer went out: %v", out.sdp)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
}

func TestNegotiationFailureClosesSession(t *testing.T) {
	conn := &fakeConn{offerErr: errors.New("boom")}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)

	if err := s.Start(); !errors.Is(err, ErrNegotiationFailure) {
		t.Fatalf("err = %v, want negotiation failure", err)
	}
	if s.State() != Closed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if !conn.closed {
		t.Errorf("underlying connection left open")
	}
}

func TestCloseIsTerminal(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	s.Close()
	s.Close()
	if s.State() != Closed {
		t.Fatalf("state = %v, want closed", s.State())
	}

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "late"}
	if err := s.HandleDescription(offer); err != nil {
		t.Fatalf("late offer: %v", err)
	}
	if err := s.HandleCandidate(webrtc.ICECandidateInit{Candidate: "late"}); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if len(conn.remote) != 0 || len(conn.added) != 0 {
		t.Errorf("closed session applied remote signals")
	}
	if s.State() != Closed {
		t.Errorf("closed is not terminal")
	}
}

func TestICEStateDrivesSessionState(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	conn.onIceConn(webrtc.ICEConnectionStateChecking)
	if s.State() != Connecting {
		t.Errorf("state = %v, want connecting", s.State())
	}
	conn.onIceConn(webrtc.ICEConnectionStateConnected)
	if s.State() != Connected {
		t.Errorf("state = %v, want connected", s.State())
	}

	conn.onIceConn(webrtc.ICEConnectionStateDisconnected)
	if s.State() != Disconnected {
		t.Errorf("state = %v, want disconnected", s.State())
	}
	// recovery within the grace period keeps the session alive
	conn.onIceConn(webrtc.ICEConnectionStateConnected)
	time.Sleep(60 * time.Millisecond)
	if s.State() != Connected {
		t.Errorf("state = %v, want connected after recovery", s.State())
	}
}

func TestDisconnectedGraceExpires(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	conn.onIceConn(webrtc.ICEConnectionStateConnected)
	conn.onIceConn(webrtc.ICEConnectionStateDisconnected)

	deadline := time.Now().Add(time.Second)
	for s.State() != Closed {
		if time.Now().After(deadline) {
			t.Fatalf("session not closed after the grace period, state = %v", s.State())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLocalCandidatesForwarded(t *testing.T) {
	conn := &fakeConn{}
	out := &fakeOut{}
	s := newTestSession("aaa", "bbb", conn, out)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// nil marks the end of gathering and is not forwarded
	conn.onIce(nil)
	if len(out.candidates) != 0 {
		t.Errorf("gathering end forwarded as a candidate")
	}

	conn.onIce(&webrtc.ICECandidate{
		Foundation: "1",
		Priority:   1,
		Address:    "127.0.0.1",
		Protocol:   webrtc.ICEProtocolUDP,
		Port:       3478,
		Component:  1,
		Typ:        webrtc.ICECandidateTypeHost,
	})
	if len(out.candidates) != 1 {
		t.Fatalf("forwarded %d candidates, want 1", len(out.candidates))
	}
}
