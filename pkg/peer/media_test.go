package peer

import (
	"errors"
	"testing"
	"time"

	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/pion/webrtc/v4"
)

type fakeSender struct {
	track webrtc.TrackLocal
}

func (f *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	f.track = t
	return nil
}
func (f *fakeSender) Track() webrtc.TrackLocal { return f.track }

func newTestMedia(t *testing.T, screen *StaticSource) (*Media, *StaticSource, *fakeSender) {
	t.Helper()
	camera := NewStaticSource("camera", true, true)
	var screenFn func() (Source, error)
	if screen != nil {
		screenFn = func() (Source, error) { return screen, nil }
	}
	m := NewMedia(camera, screenFn, logger.Default())
	if err := m.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	var videoSender *fakeSender
	err := m.attach(func(track webrtc.TrackLocal) (trackSender, error) {
		s := &fakeSender{track: track}
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			videoSender = s
		}
		return s, nil
	})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if videoSender == nil {
		t.Fatalf("no video sender after attach")
	}
	return m, camera, videoSender
}

func TestAcquireDeniedIsFatal(t *testing.T) {
	m := NewMedia(&deniedSource{}, nil, logger.Default())
	if err := m.Acquire(); !errors.Is(err, ErrMediaAccessDenied) {
		t.Errorf("err = %v, want media access denied", err)
	}
}

type deniedSource struct{}

func (deniedSource) Open() error                 { return errors.New("permission denied") }
func (deniedSource) Tracks() []webrtc.TrackLocal { return nil }
func (deniedSource) Done() <-chan struct{}       { return nil }
func (deniedSource) Close()                      {}

func TestScreenShareReplacesVideoTrack(t *testing.T) {
	screen := NewStaticSource("screen", true, false)
	m, camera, sender := newTestMedia(t, screen)

	cameraVideo := videoTrack(camera.Tracks())
	if sender.Track() != cameraVideo {
		t.Fatalf("camera video not on the sender")
	}

	if err := m.StartScreenShare(); err != nil {
		t.Fatalf("start share: %v", err)
	}
	if !m.Sharing() {
		t.Errorf("sharing flag not set")
	}
	if sender.Track() != videoTrack(screen.Tracks()) {
		t.Errorf("screen video not on the sender")
	}
	// idempotent
	if err := m.StartScreenShare(); err != nil {
		t.Fatalf("second start share: %v", err)
	}

	if err := m.StopScreenShare(); err != nil {
		t.Fatalf("stop share: %v", err)
	}
	if m.Sharing() {
		t.Errorf("sharing flag still set")
	}
	if sender.Track() != cameraVideo {
		t.Errorf("camera video not restored")
	}
}

func TestShareRevocationRestoresCamera(t *testing.T) {
	screen := NewStaticSource("screen", true, false)
	m, camera, sender := newTestMedia(t, screen)

	if err := m.StartScreenShare(); err != nil {
		t.Fatalf("start share: %v", err)
	}
	// the user revokes the capture on the source side
	screen.End()

	deadline := time.Now().Add(time.Second)
	for m.Sharing() {
		if time.Now().After(deadline) {
			t.Fatalf("camera not restored after revocation")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if sender.Track() != videoTrack(camera.Tracks()) {
		t.Errorf("camera video not back on the sender")
	}
}

func TestShareWithoutScreenSource(t *testing.T) {
	m, _, _ := newTestMedia(t, nil)
	if err := m.StartScreenShare(); err == nil {
		t.Errorf("share without a screen source should fail")
	}
}

func TestReleaseStopsEverything(t *testing.T) {
	screen := NewStaticSource("screen", true, false)
	m, camera, _ := newTestMedia(t, screen)
	if err := m.StartScreenShare(); err != nil {
		t.Fatalf("start share: %v", err)
	}

	m.Release()
	if m.Sharing() {
		t.Errorf("sharing survived release")
	}
	if camera.Tracks() != nil {
		t.Errorf("camera survived release")
	}
	if screen.Tracks() != nil {
		t.Errorf("screen capture survived release")
	}
}
