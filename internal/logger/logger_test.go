package logger

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type mockLogSink struct {
	calls []string
}

func (m *mockLogSink) Info(level int, msg string, keysAndValues ...interface{}) {
	m.calls = append(m.calls, msg)
}

func TestLoggerIs(t *testing.T) {
	l := New(&mockLogSink{}, 0, map[Component]Level{ComponentCommand: LevelDebug})

	if !l.Is(LevelDebug, ComponentCommand) {
		t.Errorf("expected ComponentCommand to be enabled at LevelDebug")
	}
	if l.Is(LevelDebug, ComponentTopology) {
		t.Errorf("expected ComponentTopology to default to LevelOff")
	}
}

func TestSelectMaxDocumentLength(t *testing.T) {
	if got := selectMaxDocumentLength(0); got != DefaultMaxDocumentLength {
		t.Errorf("expected default %d, got %d", DefaultMaxDocumentLength, got)
	}
	if got := selectMaxDocumentLength(42); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
}

func TestSelectComponentLevels(t *testing.T) {
	arg := map[Component]Level{ComponentCommand: LevelDebug}
	got := selectComponentLevels(arg)

	want := map[Component]Level{
		ComponentCommand:         LevelDebug,
		ComponentTopology:        LevelOff,
		ComponentServerSelection: LevelOff,
		ComponentConnection:      LevelOff,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("selectComponentLevels() mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		name  string
		str   string
		width uint
		want  string
	}{
		{"under width", "short", 10, "short"},
		{"exact width", "abcde", 5, "abcde"},
		{"over width", "abcdefghij", 5, "abcde..."},
		{"zero width means unbounded", "abcdefghij", 0, "abcdefghij"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := truncate(tc.str, tc.width); got != tc.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tc.str, tc.width, got, tc.want)
			}
		})
	}
}

func TestCommandStartedMessageSerialize(t *testing.T) {
	msg := &CommandStartedMessage{Name: "find", DatabaseName: "test", RequestID: 1, ConnectionID: "conn1"}
	kvs := msg.Serialize()
	if len(kvs)%2 != 0 {
		t.Fatalf("Serialize() returned an odd number of elements: %d", len(kvs))
	}
	if msg.Message() != "Command started" {
		t.Errorf("unexpected Message(): %q", msg.Message())
	}
}
