package main

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dynamokv/internal/coordinator"
	"dynamokv/internal/handoff"
	"dynamokv/internal/membership"
	"dynamokv/internal/ring"
	"dynamokv/internal/store"
	"dynamokv/internal/wire"
)

type noopSender struct{}

func (noopSender) Send(host string, tag wire.Tag, payload []byte) error { return nil }

type noopHandoff struct{}

func (noopHandoff) Enqueue(intendedHost string, write wire.StoreFile) {}

func newTestRouterDeps(t *testing.T) (*membership.Manager, *coordinator.Coordinator) {
	t.Helper()
	r := ring.New(8, 1)
	r.Add("A")

	s, err := store.Open(t.TempDir(), "A")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	mem := membership.New("A", true, r, noopSender{}, 50*time.Millisecond, filepath.Join(t.TempDir(), "A.ring"))
	coord := coordinator.New("A", true, "A", r, s, noopSender{}, noopHandoff{}, 50*time.Millisecond, 1, 1, 1)
	return mem, coord
}

func TestDispatchEmptyCommandIsError(t *testing.T) {
	mem, coord := newTestRouterDeps(t)
	got := dispatchCommand("", mem, coord)
	if !strings.HasPrefix(got, "error:") {
		t.Fatalf("expected error for empty command, got %q", got)
	}
}

func TestDispatchUnknownCommandIsError(t *testing.T) {
	mem, coord := newTestRouterDeps(t)
	got := dispatchCommand("frobnicate x", mem, coord)
	if !strings.HasPrefix(got, "error: unknown command") {
		t.Fatalf("expected unknown-command error, got %q", got)
	}
}

func TestDispatchPutWithMalformedContextIsError(t *testing.T) {
	mem, coord := newTestRouterDeps(t)
	got := dispatchCommand("put k not-json v", mem, coord)
	if !strings.HasPrefix(got, "error: malformed context") {
		t.Fatalf("expected malformed-context error, got %q", got)
	}
}

func TestDispatchPutThenGetRoundTrips(t *testing.T) {
	mem, coord := newTestRouterDeps(t)

	putReply := dispatchCommand("put k {} hello world", mem, coord)
	if strings.HasPrefix(putReply, "error:") {
		t.Fatalf("unexpected put error: %q", putReply)
	}

	getReply := dispatchCommand("get k", mem, coord)
	if !strings.Contains(getReply, "hello world") {
		t.Fatalf("expected get reply to contain stored value, got %q", getReply)
	}
}

func TestDispatchAddNodeUsageError(t *testing.T) {
	mem, coord := newTestRouterDeps(t)
	got := dispatchCommand("add-node", mem, coord)
	if !strings.HasPrefix(got, "error: usage") {
		t.Fatalf("expected usage error, got %q", got)
	}
}

func TestDispatchAddNodeRejectsExistingMember(t *testing.T) {
	mem, coord := newTestRouterDeps(t)
	got := dispatchCommand("add-node A", mem, coord)
	if got != "error: node already in ring" {
		t.Fatalf("expected already-in-ring error, got %q", got)
	}
}
