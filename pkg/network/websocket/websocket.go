package websocket

import (
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parlor-chat/parlor/pkg/logger"
)

const (
	maxMessageSize = 32 * 1024
	pingTime       = pongTime * 9 / 10
	pongTime       = 60 * time.Second
	writeWait      = 10 * time.Second
	sendBuffer     = 256
)

type WS struct {
	conn     deadlinedConn
	send     chan []byte
	once     sync.Once
	isServer bool
	pingPong bool
	log      *logger.Logger

	// OnMessage is called by the reader pump for every inbound
	// message, install it before Listen.
	OnMessage MessageHandler

	// Done is closed when both pumps have stopped and the
	// underlying socket is closed.
	Done chan struct{}
}

type MessageHandler func(message []byte, err error)

type Upgrader struct {
	websocket.Upgrader
}

var DefaultUpgrader = Upgrader{
	Upgrader: websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		WriteBufferPool: &sync.Pool{},
	},
}

// NewUpgrader creates an upgrader with an origin allow-check.
func NewUpgrader(origin string) *Upgrader {
	u := DefaultUpgrader
	if origin == "*" {
		u.CheckOrigin = func(r *http.Request) bool { return true }
	} else if origin != "" {
		u.CheckOrigin = func(r *http.Request) bool { return r.Header.Get("Origin") == origin }
	}
	return &u
}

// NewServerWithConn wraps an already upgraded connection.
func NewServerWithConn(conn *websocket.Conn, log *logger.Logger) *WS {
	return newSocket(conn, true, log)
}

// NewClient dials the address and establishes a websocket connection.
func NewClient(address url.URL, log *logger.Logger) (*WS, error) {
	conn, _, err := websocket.DefaultDialer.Dial(address.String(), nil)
	if err != nil {
		return nil, err
	}
	return newSocket(conn, false, log), nil
}

func newSocket(conn *websocket.Conn, isServer bool, log *logger.Logger) *WS {
	return &WS{
		conn:     deadlinedConn{sock: conn, wt: writeWait},
		send:     make(chan []byte, sendBuffer),
		isServer: isServer,
		pingPong: isServer,
		log:      log,
		Done:     make(chan struct{}),
	}
}

func (ws *WS) IsServer() bool { return ws.isServer }

// Listen starts the reader and writer pumps.
// Messages sent before Listen are queued in the send channel.
func (ws *WS) Listen() {
	shut := &sync.WaitGroup{}
	shut.Add(2)
	go ws.writer(shut)
	go ws.reader(shut)
	go func() {
		shut.Wait()
		_ = ws.conn.close()
		close(ws.Done)
	}()
}

// reader pumps messages from the websocket connection to the OnMessage
// callback. Serializes all websocket reads.
func (ws *WS) reader(shut *sync.WaitGroup) {
	defer func() {
		ws.closeSend()
		shut.Done()
	}()
	ws.conn.setup(func(conn *websocket.Conn) {
		conn.SetReadLimit(maxMessageSize)
		if ws.pingPong {
			_ = conn.SetReadDeadline(time.Now().Add(pongTime))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongTime))
			})
		}
	})
	for {
		message, err := ws.conn.read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				ws.log.Error().Err(err).Msg("websocket read fail")
			}
			return
		}
		if ws.OnMessage != nil {
			ws.OnMessage(message, nil)
		}
	}
}

// writer pumps messages from the send channel to the websocket
// connection. Serializes all websocket writes.
func (ws *WS) writer(shut *sync.WaitGroup) {
	var ping <-chan time.Time
	if ws.pingPong {
		ticker := time.NewTicker(pingTime)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer shut.Done()
	for {
		select {
		case message, ok := <-ws.send:
			if !ok {
				_ = ws.conn.write(websocket.CloseMessage, []byte{})
				// unblocks the reader pump
				_ = ws.conn.close()
				return
			}
			if err := ws.conn.write(websocket.TextMessage, message); err != nil {
				_ = ws.conn.close()
				return
			}
		case <-ping:
			if err := ws.conn.write(websocket.PingMessage, nil); err != nil {
				_ = ws.conn.close()
				return
			}
		}
	}
}

// Write queues a message for delivery, drops it when the
// send buffer is full (slow or dead consumer).
func (ws *WS) Write(data []byte) {
	select {
	case ws.send <- data:
	default:
		ws.log.Warn().Msg("websocket send buffer overrun, message dropped")
	}
}

// Close stops the connection, pending writes are flushed by the
// writer pump before the close frame.
func (ws *WS) Close() { ws.closeSend() }

func (ws *WS) closeSend() { ws.once.Do(func() { close(ws.send) }) }
