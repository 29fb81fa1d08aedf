package ring

import (
	"path/filepath"
	"testing"
)

func TestOwnerAndReplicasDeterministic(t *testing.T) {
	r := New(50, 3)
	r.Add("a")
	r.Add("b")
	r.Add("c")

	owner1 := r.Owner("my-key")
	replicas1 := r.Replicas("my-key")

	owner2 := r.Owner("my-key")
	replicas2 := r.Replicas("my-key")

	if owner1 != owner2 {
		t.Fatalf("owner not deterministic: %s vs %s", owner1, owner2)
	}
	if len(replicas1) != len(replicas2) {
		t.Fatalf("replica count not deterministic: %v vs %v", replicas1, replicas2)
	}
	for i := range replicas1 {
		if replicas1[i] != replicas2[i] {
			t.Fatalf("replica set not deterministic: %v vs %v", replicas1, replicas2)
		}
	}
}

func TestReplicasExcludesOwnerAndIsBoundedByQsizeMinusOne(t *testing.T) {
	r := New(50, 3)
	r.Add("a")
	r.Add("b")
	r.Add("c")
	r.Add("d")

	owner := r.Owner("k")
	replicas := r.Replicas("k")

	if len(replicas) > 2 {
		t.Fatalf("expected at most Qsize-1=2 replicas, got %d: %v", len(replicas), replicas)
	}
	for _, rep := range replicas {
		if rep == owner {
			t.Fatalf("replica set contains owner %s: %v", owner, replicas)
		}
	}
	seen := map[string]bool{}
	for _, rep := range replicas {
		if seen[rep] {
			t.Fatalf("replica set has duplicate: %v", replicas)
		}
		seen[rep] = true
	}
}

func TestHandoffNodeExcludesDownHost(t *testing.T) {
	r := New(50, 3)
	r.Add("a")
	r.Add("b")
	r.Add("c")

	for _, down := range []string{"a", "b", "c"} {
		h := r.HandoffNode(down)
		if h == down {
			t.Fatalf("handoff node for %s resolved to itself", down)
		}
		if h == "" {
			t.Fatalf("handoff node for %s is empty", down)
		}
	}
}

func TestAddRemoveUpdatesMembers(t *testing.T) {
	r := New(50, 3)
	r.Add("a")
	r.Add("b")

	members := r.Members()
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d: %v", len(members), members)
	}

	r.Remove("a")
	members = r.Members()
	if len(members) != 1 || members[0] != "b" {
		t.Fatalf("expected only b to remain, got %v", members)
	}
}

func TestPersistAndLoadRoundTrip(t *testing.T) {
	r := New(50, 3)
	r.Add("a")
	r.Add("b")
	r.Add("c")

	dir := t.TempDir()
	path := filepath.Join(dir, "node-a.ring")
	if err := r.Persist(path); err != nil {
		t.Fatalf("persist: %v", err)
	}

	loaded := New(50, 3)
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}

	want := r.Members()
	got := loaded.Members()
	if len(want) != len(got) {
		t.Fatalf("member count mismatch: want %v got %v", want, got)
	}
	for i := range want {
		if want[i] != got[i] {
			t.Fatalf("members mismatch: want %v got %v", want, got)
		}
	}
}

func TestLoadMissingFileIsNotError(t *testing.T) {
	r := New(50, 3)
	if err := r.Load(filepath.Join(t.TempDir(), "does-not-exist.ring")); err != nil {
		t.Fatalf("loading a missing ring file should not error: %v", err)
	}
	if len(r.Members()) != 0 {
		t.Fatalf("expected empty ring after loading missing file")
	}
}

func TestEmptyRingReturnsNothing(t *testing.T) {
	r := New(50, 3)
	if owner := r.Owner("k"); owner != "" {
		t.Fatalf("expected empty owner on empty ring, got %q", owner)
	}
	if replicas := r.Replicas("k"); replicas != nil {
		t.Fatalf("expected nil replicas on empty ring, got %v", replicas)
	}
	if h := r.HandoffNode("down"); h != "" {
		t.Fatalf("expected empty handoff node on empty ring, got %q", h)
	}
}
