package worker

import (
	"context"
	"encoding/json"
	"sort"
	"testing"
)

func TestRegistry_RegisterAndResolve(t *testing.T) {
	r := NewRegistry()

	if _, ok := r.Resolve("email:send"); ok {
		t.Fatal("empty registry resolved a handler")
	}

	r.Register("email:send", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"v1"`), nil
	})
	h, ok := r.Resolve("email:send")
	if !ok {
		t.Fatal("registered handler not resolved")
	}
	out, err := h(context.Background(), nil)
	if err != nil || string(out) != `"v1"` {
		t.Fatalf("handler returned %s, %v", out, err)
	}

	// Re-registration replaces.
	r.Register("email:send", func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`"v2"`), nil
	})
	h, _ = r.Resolve("email:send")
	out, _ = h(context.Background(), nil)
	if string(out) != `"v2"` {
		t.Fatalf("expected replacement handler, got %s", out)
	}
}

func TestRegistry_Types(t *testing.T) {
	r := NewRegistry()
	noop := func(_ context.Context, _ json.RawMessage) (json.RawMessage, error) { return nil, nil }
	r.Register("email:send", noop)
	r.Register("report:build", noop)

	types := r.Types()
	sort.Strings(types)
	if len(types) != 2 || types[0] != "email:send" || types[1] != "report:build" {
		t.Fatalf("Types() = %v", types)
	}
}
