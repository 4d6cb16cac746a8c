package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// StaticSource is a device-less media source backed by static sample
// tracks. Headless agents use it in place of real capture hardware;
// anything able to produce encoded frames can write into its tracks.
type StaticSource struct {
	mu     sync.Mutex
	label  string
	video  bool
	audio  bool
	tracks []webrtc.TrackLocal
	done   chan struct{}
}

func NewStaticSource(label string, video, audio bool) *StaticSource {
	return &StaticSource{label: label, video: video, audio: audio}
}

func (s *StaticSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracks != nil {
		return nil
	}
	var tracks []webrtc.TrackLocal
	if s.video {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.label)
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}
	if s.audio {
		t, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.label)
		if err != nil {
			return err
		}
		tracks = append(tracks, t)
	}
	s.tracks = tracks
	s.done = make(chan struct{})
	return nil
}

func (s *StaticSource) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracks
}

func (s *StaticSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// End simulates the source finishing on its own, the way a user
// revokes screen sharing through the browser control.
func (s *StaticSource) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
	}
}

func (s *StaticSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
	if s.done != nil {
		select {
		case <-s.done:
		default:
			close(s.done)
		}
		s.done = nil
	}
}
