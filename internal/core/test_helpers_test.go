package core

import (
	"encoding/json"
	"testing"
	"time"
)

// nextFrame pops the next outbound frame, decoded into a generic map.
func nextFrame(t *testing.T, c *Client) map[string]any {
	t.Helper()

	select {
	case frame := <-c.Outbound():
		var m map[string]any
		if err := json.Unmarshal(frame, &m); err != nil {
			t.Fatalf("invalid frame %s: %v", frame, err)
		}
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("expected a frame, got none")
		return nil
	}
}

// mustFrame drains outbound frames until one of the wanted type appears.
func mustFrame(t *testing.T, c *Client, wantType string) map[string]any {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.Outbound():
			var m map[string]any
			if err := json.Unmarshal(frame, &m); err != nil {
				t.Fatalf("invalid frame %s: %v", frame, err)
			}
			if m["type"] == wantType {
				return m
			}
		case <-deadline:
			t.Fatalf("frame of type %q not received", wantType)
			return nil
		}
	}
}

// assertNoFrame fails if the client has anything queued.
func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()

	select {
	case frame := <-c.Outbound():
		t.Fatalf("unexpected frame: %s", frame)
	default:
	}
}

// drainFrames discards everything currently queued.
func drainFrames(c *Client) {
	for {
		select {
		case <-c.Outbound():
		default:
			return
		}
	}
}

// onlineNames extracts the online list from a presence frame.
func onlineNames(t *testing.T, frame map[string]any) []string {
	t.Helper()

	raw, ok := frame["online"].([]any)
	if !ok {
		t.Fatalf("presence frame missing online list: %v", frame)
	}
	names := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			t.Fatalf("online entry is not a string: %v", v)
		}
		names = append(names, s)
	}
	return names
}

func assertNames(t *testing.T, got, want []string) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("expected online %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected online %v, got %v", want, got)
		}
	}
}
