package handoff

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dynamokv/internal/wire"
)

type fakeSender struct {
	mu  sync.Mutex
	ok  map[string]bool
	got map[string][]wire.StoreFile
}

func newFakeSender() *fakeSender {
	return &fakeSender{ok: make(map[string]bool), got: make(map[string][]wire.StoreFile)}
}

func (f *fakeSender) Send(host string, tag wire.Tag, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.ok[host] {
		return errUnreachable
	}
	w, err := wire.Decode[wire.StoreFile](payload)
	if err != nil {
		return err
	}
	f.got[host] = append(f.got[host], w)
	return nil
}

var errUnreachable = &unreachableErr{}

type unreachableErr struct{}

func (*unreachableErr) Error() string { return "unreachable" }

func TestEnqueueThenRetrySucceedsAndDrainsQueue(t *testing.T) {
	sender := newFakeSender()
	path := filepath.Join(t.TempDir(), "A.handoff")
	m := New("A", sender, path, time.Hour) // long interval — we call Retry directly

	m.Enqueue("B", wire.StoreFile{Key: "k", Value: "v", CorrID: 1})
	if m.Len() != 1 {
		t.Fatalf("expected 1 queued write, got %d", m.Len())
	}

	sender.ok["B"] = true
	m.Retry()

	if m.Len() != 0 {
		t.Fatalf("expected queue drained after successful retry, got %d", m.Len())
	}
	if len(sender.got["B"]) != 1 {
		t.Fatalf("expected B to receive exactly 1 delivery, got %d", len(sender.got["B"]))
	}
}

func TestRetryLeavesUnreachableHostQueued(t *testing.T) {
	sender := newFakeSender() // B never marked reachable
	path := filepath.Join(t.TempDir(), "A.handoff")
	m := New("A", sender, path, time.Hour)

	m.Enqueue("B", wire.StoreFile{Key: "k", Value: "v", CorrID: 1})
	m.Retry()

	if m.Len() != 1 {
		t.Fatalf("expected write to remain queued after failed retry, got %d", m.Len())
	}
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "A.handoff")
	sender := newFakeSender()
	m := New("A", sender, path, time.Hour)
	m.Enqueue("B", wire.StoreFile{Key: "k", Value: "v", CorrID: 1})

	reloaded := New("A", sender, path, time.Hour)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	if reloaded.Len() != 1 {
		t.Fatalf("expected reloaded queue to contain 1 write, got %d", reloaded.Len())
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	m := New("A", newFakeSender(), filepath.Join(t.TempDir(), "missing.handoff"), time.Hour)
	if err := m.Load(); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", m.Len())
	}
}

func TestHandleHandoffEnqueuesForEveryIntendedHost(t *testing.T) {
	m := New("A", newFakeSender(), filepath.Join(t.TempDir(), "A.handoff"), time.Hour)

	payload, err := wire.Encode(wire.Handoff{
		Write:         wire.StoreFile{Key: "k", Value: "v"},
		IntendedHosts: []string{"B", "C"},
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var conn net.Conn
	m.HandleHandoff(conn, payload)

	if m.Len() != 2 {
		t.Fatalf("expected one queued write per intended host, got %d", m.Len())
	}
}
