package peer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/pion/webrtc/v4"
)

// ErrMediaAccessDenied means a capture device (camera, microphone or
// screen) refused to open. Fatal to starting a session, never retried
// automatically.
var ErrMediaAccessDenied = errors.New("media access denied")

// Source supplies local media tracks. Implementations wrap concrete
// capture devices; the repo ships a static source for headless agents
// and tests.
type Source interface {
	// Open acquires the device. Open again after Close is allowed.
	Open() error
	Tracks() []webrtc.TrackLocal
	// Done is closed when the source ends on its own, e.g. the user
	// revokes screen sharing through the browser control.
	Done() <-chan struct{}
	Close()
}

// trackSender is the outgoing track slot of a connection,
// *webrtc.RTPSender in production.
type trackSender interface {
	ReplaceTrack(webrtc.TrackLocal) error
	Track() webrtc.TrackLocal
}

var _ trackSender = (*webrtc.RTPSender)(nil)

// Media owns the local capture sources of one peer session and swaps
// outgoing tracks in place, without touching room membership or the
// connection itself.
type Media struct {
	mu      sync.Mutex
	camera  Source
	screen  func() (Source, error)
	sharing Source
	video   trackSender
	audio   trackSender
	stop    chan struct{}
	log     *logger.Logger
}

// NewMedia creates a media controller around a camera source and an
// optional screen-capture source factory.
func NewMedia(camera Source, screen func() (Source, error), log *logger.Logger) *Media {
	return &Media{camera: camera, screen: screen, log: log}
}

// Acquire opens the camera and microphone. A refusal aborts the
// session join with ErrMediaAccessDenied.
func (m *Media) Acquire() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.camera.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	return nil
}

// attach plugs the camera tracks into a connection through the add
// callback and remembers the senders for later in-place replacement.
func (m *Media) attach(add func(webrtc.TrackLocal) (trackSender, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.camera.Tracks() {
		sender, err := add(t)
		if err != nil {
			return err
		}
		switch t.Kind() {
		case webrtc.RTPCodecTypeVideo:
			m.video = sender
		case webrtc.RTPCodecTypeAudio:
			m.audio = sender
		}
	}
	return nil
}

// Sharing reports whether screen capture is the active video source.
func (m *Media) Sharing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sharing != nil
}

// StartScreenShare swaps the outgoing video track to screen capture.
// The connection is untouched: the track is replaced on the existing
// sender, no renegotiation happens. When the source ends on its own
// the camera track is restored.
func (m *Media) StartScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sharing != nil {
		return nil
	}
	if m.screen == nil || m.video == nil {
		return errors.New("no screen source or video sender")
	}
	scr, err := m.screen()
	if err != nil {
		return err
	}
	if err = scr.Open(); err != nil {
		return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
	}
	video := videoTrack(scr.Tracks())
	if video == nil {
		scr.Close()
		return errors.New("screen source has no video track")
	}
	if err = m.video.ReplaceTrack(video); err != nil {
		scr.Close()
		return err
	}
	m.sharing = scr
	m.stop = make(chan struct{})
	go m.watchShare(scr.Done(), m.stop)
	m.log.Info().Msg("screen share on")
	return nil
}

// StopScreenShare restores the camera video track.
func (m *Media) StopScreenShare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopShareLocked()
}

func (m *Media) stopShareLocked() error {
	if m.sharing == nil {
		return nil
	}
	close(m.stop)
	m.sharing.Close()
	m.sharing = nil
	video := videoTrack(m.camera.Tracks())
	if video == nil {
		// the camera was closed meanwhile, reacquire it
		if err := m.camera.Open(); err != nil {
			return fmt.Errorf("%w: %v", ErrMediaAccessDenied, err)
		}
		video = videoTrack(m.camera.Tracks())
	}
	if video == nil {
		return errors.New("camera has no video track")
	}
	if err := m.video.ReplaceTrack(video); err != nil {
		return err
	}
	m.log.Info().Msg("screen share off")
	return nil
}

// watchShare restores the camera when the user revokes sharing
// through the capture source itself.
func (m *Media) watchShare(done <-chan struct{}, stop <-chan struct{}) {
	select {
	case <-done:
		m.mu.Lock()
		defer m.mu.Unlock()
		if err := m.stopShareLocked(); err != nil {
			m.log.Error().Err(err).Msg("share recovery fail")
		}
	case <-stop:
	}
}

// Release stops every local source synchronously, camera and
// microphone access is not allowed to outlive the session.
func (m *Media) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sharing != nil {
		close(m.stop)
		m.sharing.Close()
		m.sharing = nil
	}
	m.camera.Close()
	m.video = nil
	m.audio = nil
}

func videoTrack(tracks []webrtc.TrackLocal) webrtc.TrackLocal {
	for _, t := range tracks {
		if t.Kind() == webrtc.RTPCodecTypeVideo {
			return t
		}
	}
	return nil
}
