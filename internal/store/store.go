// Package store is the local durable storage collaborator (spec §4.6):
// per-key multi-version rows addressed by a vector-clock Context, backed
// by a write-ahead log and periodic snapshots.
//
// Big idea:
//
//  1. WAL (Write-Ahead Log)
//     Every write is first written to disk before updating memory. If
//     the process crashes, we replay the WAL to rebuild state. This is
//     how real databases stay crash-safe.
//
//  2. Snapshot
//     Instead of replaying the entire WAL from the start of time, we
//     periodically save the full in-memory state to disk; afterward we
//     only replay WAL entries written since.
//
//  3. Concurrency
//     sync.RWMutex — many readers, one writer at a time.
//
// Storage never deletes a concurrent version on write: it retains every
// concurrent version of a key, drops only versions a new write strictly
// dominates (invariant I1), and leaves conflict resolution to the
// coordinator's SortData call and ultimately the client.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Row is one version of a key: the value and the context it was written
// with.
type Row struct {
	Context Context   `json:"context"`
	Value   string    `json:"value"`
	WriteAt time.Time `json:"write_at"`
}

// Store is the local per-node storage engine. Safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	rows    map[string][]Row
	wal     *wal
	dataDir string
	host    string
}

// Open creates or opens a Store rooted at dataDir. Startup process:
//  1. load the latest snapshot (if any) into memory
//  2. open the WAL
//  3. replay WAL entries written since the snapshot
func Open(dataDir, host string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Store{
		rows:    make(map[string][]Row),
		dataDir: dataDir,
		host:    host,
	}

	if err := s.loadSnapshot(); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	w, err := openWAL(filepath.Join(dataDir, host+".db"))
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = w

	if err := s.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}
	return s, nil
}

// StoreFile inserts a new version of key written with ctx by fromHost.
// Concurrent prior versions are kept; prior versions the new write
// strictly dominates are dropped (invariant I1). Repeated deliveries of an
// identical (key, context, value), as hinted handoff may produce, are
// idempotent because appendRowLocked does not append a row whose context
// and value are already on file.
func (s *Store) StoreFile(key, fromHost string, ctx Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ctx == nil {
		ctx = make(Context)
	}
	row := Row{Context: ctx.Copy(), Value: value, WriteAt: time.Now().UTC()}

	if err := s.wal.append(walEntry{Key: key, Row: row}); err != nil {
		return fmt.Errorf("wal append: %w", err)
	}

	s.appendRowLocked(key, row)
	return nil
}

// GetFile returns every row on file for key — the full, possibly
// conflicting, version set. Pass the result to SortData for the sibling
// set a client should see.
func (s *Store) GetFile(key string) []Row {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.rows[key]
	out := make([]Row, len(rows))
	copy(out, rows)
	return out
}

// SortData returns the subset of rows whose contexts are maximal under
// vector-clock dominance — the sibling set. A row dominated by any other
// row in the set is dropped; rows whose contexts are mutually concurrent
// (or equal) all survive.
func SortData(rows []Row) []Row {
	var siblings []Row
	for i, candidate := range rows {
		dominated := false
		for j, other := range rows {
			if i == j {
				continue
			}
			if other.Context.Dominates(candidate.Context) {
				dominated = true
				break
			}
		}
		if !dominated {
			siblings = append(siblings, candidate)
		}
	}
	return dedupeRows(siblings)
}

// dedupeRows removes exact (context, value) duplicates, which arise when
// several responders hold the same version and would otherwise show up as
// repeated identical siblings.
func dedupeRows(rows []Row) []Row {
	type key struct {
		ctx   string
		value string
	}
	seen := make(map[key]bool, len(rows))
	var out []Row
	for _, r := range rows {
		ctxKey, _ := sonic.MarshalString(r.Context)
		k := key{ctx: ctxKey, value: r.Value}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, r)
	}
	return out
}

// appendRowLocked adds row to key's version list, dropping any existing
// row it strictly dominates. If row is itself strictly dominated by a
// surviving existing row — a stale write arriving late via hinted
// handoff retry or an out-of-order replica RPC — it is discarded instead
// of appended, preserving invariant I1: every row on file is maximal
// under vector-clock dominance. A row whose context and value are already
// on file is an identical redelivery and is not appended again. Caller
// must hold the write lock.
func (s *Store) appendRowLocked(key string, row Row) {
	rows := s.rows[key]
	kept := rows[:0]
	for _, existing := range rows {
		if existing.Value == row.Value && existing.Context.Compare(row.Context) == Equal {
			// identical redelivery: this version is already on file.
			s.rows[key] = rows
			return
		}
		if row.Context.Dominates(existing.Context) {
			continue // superseded by the incoming write
		}
		if existing.Context.Dominates(row.Context) {
			// row is stale: a dominating version is already on file.
			s.rows[key] = rows
			return
		}
		kept = append(kept, existing)
	}
	kept = append(kept, row)
	s.rows[key] = kept
}

// Keys returns every key currently on file.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	return keys
}

// Snapshot saves the entire in-memory state to disk via write-then-rename
// and truncates the WAL, since the snapshot now captures everything in it.
func (s *Store) Snapshot() error {
	s.mu.RLock()
	snapshot := make(map[string][]Row, len(s.rows))
	for k, v := range s.rows {
		snapshot[k] = v
	}
	s.mu.RUnlock()

	path := filepath.Join(s.dataDir, s.host+".snapshot")
	tmp := path + ".tmp"

	data, err := sonic.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return s.wal.truncate()
}

func (s *Store) loadSnapshot() error {
	path := filepath.Join(s.dataDir, s.host+".snapshot")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var snapshot map[string][]Row
	if err := sonic.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	s.rows = snapshot
	return nil
}

// replayWAL rebuilds memory from the WAL without re-writing entries to
// it (we are reconstructing, not generating new writes).
func (s *Store) replayWAL() error {
	entries, err := s.wal.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.appendRowLocked(e.Key, e.Row)
	}
	return nil
}

// Close closes the WAL file. Call during shutdown.
func (s *Store) Close() error {
	return s.wal.close()
}
