package livepush

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

// registerTestClient adds a bare client to the hub's registry without a real connection. The send buffer is large
// enough that enqueue never takes the overflow path, which would touch the connection.
func registerTestClient(h *Hub) *Client {
	c := newClient(h, nil, zerolog.Nop())
	c.setAuthenticated("admin")
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func TestHubBroadcastsPubSubEvent(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil, 0, zerolog.Nop())
	c := registerTestClient(h)

	h.handlePubSubEvent(`{"t":"new_message","d":{"room_id":7}}`)

	select {
	case frame := <-c.send:
		var decoded Frame
		if err := json.Unmarshal(frame, &decoded); err != nil {
			t.Fatalf("unmarshal frame: %v", err)
		}
		if decoded.Type != FrameNewMessage {
			t.Errorf("Type = %q, want %q", decoded.Type, FrameNewMessage)
		}
		if string(decoded.Data) != `{"room_id":7}` {
			t.Errorf("Data = %s", decoded.Data)
		}
	default:
		t.Fatal("no frame enqueued for client")
	}
}

func TestHubIgnoresMalformedEvent(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil, 0, zerolog.Nop())
	c := registerTestClient(h)

	h.handlePubSubEvent(`{not json`)

	select {
	case frame := <-c.send:
		t.Fatalf("unexpected frame %s for malformed event", frame)
	default:
	}
}

func TestHubUnregister(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil, 0, zerolog.Nop())
	c := registerTestClient(h)
	if got := h.ClientCount(); got != 1 {
		t.Fatalf("ClientCount() = %d, want 1", got)
	}

	h.unregister(c)
	if got := h.ClientCount(); got != 0 {
		t.Errorf("ClientCount() = %d, want 0", got)
	}

	// Unregistering twice is harmless.
	h.unregister(c)
}

func TestHubBroadcastReachesAllClients(t *testing.T) {
	t.Parallel()

	h := NewHub(nil, nil, nil, 0, zerolog.Nop())
	first := registerTestClient(h)
	second := registerTestClient(h)

	h.broadcast([]byte(`{"type":"room_update"}`))

	for i, c := range []*Client{first, second} {
		select {
		case <-c.send:
		default:
			t.Errorf("client %d received no frame", i)
		}
	}
}
