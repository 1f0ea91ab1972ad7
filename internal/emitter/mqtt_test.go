package emitter

import (
	"strings"
	"testing"

	"github.com/visiona/vigia/internal/config"
	"github.com/visiona/vigia/internal/types"
)

// TestPublishRequiresConnection fails fast when no broker session exists.
func TestPublishRequiresConnection(t *testing.T) {
	e := NewMQTTEmitter(config.EmitterConfig{
		Broker:      "tcp://127.0.0.1:1883",
		ClientID:    "test",
		TopicPrefix: "vigia",
	}, "test")

	err := e.PersonEventStarted(types.PersonEvent{Camera: "porch"})
	if err == nil || !strings.Contains(err.Error(), "not connected") {
		t.Fatalf("err = %v, want not-connected error", err)
	}

	st := e.Stats()
	if st.Connected {
		t.Error("Connected = true before Connect")
	}
	if st.Errors != 1 {
		t.Errorf("Errors = %d, want 1", st.Errors)
	}
	if len(st.Published) != 0 {
		t.Errorf("Published = %v, want empty", st.Published)
	}
}
