package livepush

import (
	"encoding/json"
	"testing"
)

func TestNewFrame(t *testing.T) {
	t.Parallel()

	raw, err := newFrame(FramePong, pingData{TS: 1700000000})
	if err != nil {
		t.Fatalf("newFrame() error = %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != FramePong {
		t.Errorf("Type = %q, want %q", frame.Type, FramePong)
	}

	var data pingData
	if err := json.Unmarshal(frame.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.TS != 1700000000 {
		t.Errorf("TS = %d, want 1700000000", data.TS)
	}
}

func TestNewRawFrame(t *testing.T) {
	t.Parallel()

	raw, err := newRawFrame(FrameNewMessage, json.RawMessage(`{"room_id":7}`))
	if err != nil {
		t.Fatalf("newRawFrame() error = %v", err)
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		t.Fatalf("unmarshal frame: %v", err)
	}
	if frame.Type != FrameNewMessage {
		t.Errorf("Type = %q, want %q", frame.Type, FrameNewMessage)
	}
	if string(frame.Data) != `{"room_id":7}` {
		t.Errorf("Data = %s, want passthrough payload", frame.Data)
	}
}

func TestNewMessageEventIDsAreStrings(t *testing.T) {
	t.Parallel()

	// Snowflake IDs exceed the safe integer range of dashboard JavaScript, so they go over the wire as strings.
	raw, err := json.Marshal(NewMessageEvent{RoomID: 1, SourceGuildID: 1234567890123456789, SourceChannelID: 42})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got, ok := decoded["source_guild_id"].(string); !ok || got != "1234567890123456789" {
		t.Errorf("source_guild_id = %v, want string %q", decoded["source_guild_id"], "1234567890123456789")
	}
	if got, ok := decoded["room_id"].(float64); !ok || got != 1 {
		t.Errorf("room_id = %v, want number 1", decoded["room_id"])
	}
}
