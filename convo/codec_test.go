package convo

import (
	"net/url"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	u, _ := url.Parse("https://example.com/a?b=c")
	in := map[string]any{
		"when":  time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC),
		"where": u,
		"blob":  []byte{1, 2, 3, 4},
		"nested": map[string]any{
			"list": []any{"a", float64(1), true, nil},
		},
	}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", out)
	}

	gotTime, ok := m["when"].(time.Time)
	if !ok || !gotTime.Equal(in["when"].(time.Time)) {
		t.Fatalf("time round-trip failed: %#v", m["when"])
	}
	gotURL, ok := m["where"].(*url.URL)
	if !ok || gotURL.String() != u.String() {
		t.Fatalf("url round-trip failed: %#v", m["where"])
	}
	gotBytes, ok := m["blob"].([]byte)
	if !ok || string(gotBytes) != string([]byte{1, 2, 3, 4}) {
		t.Fatalf("bytes round-trip failed: %#v", m["blob"])
	}
}

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	msg := NewAssistantMessage("m1", []Part{
		TextPart("hello"),
		ToolCallPart("tc1", "search", map[string]any{"q": "go"}),
	})
	msg.CreatedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != msg.ID || out.Role != msg.Role || len(out.Parts) != len(msg.Parts) {
		t.Fatalf("mismatch: %+v", out)
	}
	if !out.CreatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", out.CreatedAt, msg.CreatedAt)
	}
}
