package peer

import (
	"sync"
	"testing"
	"time"

	"github.com/parlor-chat/parlor/pkg/api"
	peerConfig "github.com/parlor-chat/parlor/pkg/config/peer"
	"github.com/parlor-chat/parlor/pkg/logger"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conf := peerConfig.Config{}
	conf.Peer.Room = "r1"
	conf.Peer.Name = "guest"
	conf.Peer.ReconnectGrace = time.Second
	c, err := NewClient(conf, nil, logger.Default())
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return c
}

// The room token is fixed at construction: signaling callbacks and
// chat/rename senders read it concurrently without the mutex.
func TestRoomTokenStableUnderDispatch(t *testing.T) {
	c := newTestClient(t)
	joined := []byte(`{"t":201,"p":{"roomId":"r1","userId":"ua","members":[]}}`)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			c.dispatch(joined)
		}
	}()
	for i := 0; i < 100; i++ {
		c.SendChat("hi")
		c.ChangeName("guest")
	}
	wg.Wait()

	if c.RoomId() != "r1" {
		t.Errorf("room token drifted: %q", c.RoomId())
	}
}

// One chat copy per peer: the relay reaches the whole room, so it must
// not be combined with aux channel sends.
func TestChatSingleDeliveryPerPeer(t *testing.T) {
	c := newTestClient(t)
	dcOpen := &fakeDataChannel{}
	dcPending := &fakeDataChannel{}
	sOpen := newTestSession("me", "p1", &fakeConn{}, &fakeOut{})
	sOpen.Aux().bind(dcOpen)
	dcOpen.onOpen()
	sPending := newTestSession("me", "p2", &fakeConn{}, &fakeOut{})
	sPending.Aux().bind(dcPending)
	c.sessions["p1"] = sOpen
	c.sessions["p2"] = sPending

	var relayed []api.PT
	c.send = func(pt api.PT, _ any) { relayed = append(relayed, pt) }

	// mixed channel states: the relay carries the one copy for all
	c.SendChat("hi")
	if len(relayed) != 1 || relayed[0] != api.Chat {
		t.Fatalf("relayed = %v, want one chat", relayed)
	}
	if len(dcOpen.sent) != 0 {
		t.Errorf("aux duplicate of a relayed chat")
	}

	// every channel open: aux only, nothing through the relay
	dcPending.onOpen()
	relayed = nil
	c.SendChat("again")
	if len(relayed) != 0 {
		t.Errorf("relay duplicate of an aux chat: %v", relayed)
	}
	if len(dcOpen.sent) != 1 || len(dcPending.sent) != 1 {
		t.Errorf("aux copies = %d/%d, want 1/1", len(dcOpen.sent), len(dcPending.sent))
	}
}

// A client with no live sessions still gets the chat out via the relay.
func TestChatFallsBackWithoutSessions(t *testing.T) {
	c := newTestClient(t)
	var relayed []api.PT
	c.send = func(pt api.PT, _ any) { relayed = append(relayed, pt) }

	c.SendChat("anyone here")
	if len(relayed) != 1 || relayed[0] != api.Chat {
		t.Errorf("relayed = %v, want one chat", relayed)
	}
}
