package peer

import (
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/parlor-chat/parlor/pkg/logger"
	"github.com/pion/webrtc/v4"
)

const auxLabel = "aux"

const (
	KindChat       = "chat"
	KindNameChange = "name-change"
)

// Envelope frames every aux channel message.
type Envelope struct {
	Kind      string `json:"kind"`
	SenderId  string `json:"senderId"`
	Payload   string `json:"payload"`
	Timestamp int64  `json:"timestamp"`
}

// dataChannel is the slice of *webrtc.DataChannel the aux channel
// uses.
type dataChannel interface {
	Send([]byte) error
	OnOpen(func())
	OnMessage(func(webrtc.DataChannelMessage))
	OnClose(func())
	Close() error
}

var _ dataChannel = (*webrtc.DataChannel)(nil)

// AuxChannel carries chat text and live display-name updates over a
// single ordered reliable channel riding the peer connection. It is
// opened by the offerer and accepted by the answerer; both ends see
// the same API. A closed channel drops sends silently.
type AuxChannel struct {
	mu       sync.Mutex
	dc       dataChannel
	open     bool
	senderId string

	onChat func(senderId, text string)
	onName func(senderId, name string)
	log    *logger.Logger
}

func NewAuxChannel(senderId string, log *logger.Logger) *AuxChannel {
	return &AuxChannel{senderId: senderId, log: log}
}

func (a *AuxChannel) OnChat(fn func(senderId, text string))       { a.onChat = fn }
func (a *AuxChannel) OnNameChange(fn func(senderId, name string)) { a.onName = fn }

func (a *AuxChannel) Open() bool { a.mu.Lock(); defer a.mu.Unlock(); return a.open }

// bind attaches the underlying channel, from CreateDataChannel on the
// offerer or OnDataChannel on the answerer.
func (a *AuxChannel) bind(dc dataChannel) {
	a.mu.Lock()
	a.dc = dc
	a.mu.Unlock()
	dc.OnOpen(func() {
		a.mu.Lock()
		a.open = true
		a.mu.Unlock()
		a.log.Debug().Msg("aux channel open")
	})
	dc.OnClose(func() {
		a.mu.Lock()
		a.open = false
		a.mu.Unlock()
		a.log.Debug().Msg("aux channel closed")
	})
	dc.OnMessage(func(m webrtc.DataChannelMessage) { a.handle(m.Data) })
}

func (a *AuxChannel) SendChat(text string) { a.send(KindChat, text) }

func (a *AuxChannel) SendNameChange(name string) { a.send(KindNameChange, name) }

func (a *AuxChannel) send(kind, payload string) {
	a.mu.Lock()
	dc, open := a.dc, a.open
	a.mu.Unlock()
	if dc == nil || !open {
		// no delivery guarantee beyond the transport's own
		return
	}
	data, err := json.Marshal(Envelope{
		Kind:      kind,
		SenderId:  a.senderId,
		Payload:   payload,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		a.log.Error().Err(err).Msg("aux marshal fail")
		return
	}
	if err = dc.Send(data); err != nil {
		a.log.Debug().Err(err).Msg("aux send dropped")
	}
}

func (a *AuxChannel) handle(data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		a.log.Warn().Err(err).Msg("malformed aux message")
		return
	}
	switch env.Kind {
	case KindChat:
		if a.onChat != nil {
			a.onChat(env.SenderId, env.Payload)
		}
	case KindNameChange:
		if a.onName != nil {
			a.onName(env.SenderId, env.Payload)
		}
	default:
		a.log.Warn().Msgf("unknown aux kind %q", env.Kind)
	}
}

func (a *AuxChannel) close() {
	a.mu.Lock()
	dc := a.dc
	a.dc = nil
	a.open = false
	a.mu.Unlock()
	if dc != nil {
		_ = dc.Close()
	}
}
