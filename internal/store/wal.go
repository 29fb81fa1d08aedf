package store

import (
	"bufio"
	"os"
	"sync"

	"github.com/bytedance/sonic"
)

// The WAL (Write-Ahead Log) is an append-only file where every mutation is
// durably recorded BEFORE it is applied to the in-memory store.
//
// Interview explanation:
//   WALs are the backbone of crash safety in databases. Because writes are
//   sequential (append-only), they are very fast even on spinning disks.
//   On restart we read the WAL from top to bottom and re-apply every entry,
//   leaving the store in the exact state it was before the crash.

type walEntry struct {
	Key string `json:"key"`
	Row Row    `json:"row"`
}

// wal is a simple append-only log backed by a single file, named
// "<host>.db" per spec §6. Each entry is a newline-delimited JSON object
// (NDJSON), trivial to read back line-by-line.
type wal struct {
	mu   sync.Mutex
	file *os.File
	path string
}

func openWAL(path string) (*wal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &wal{file: f, path: path}, nil
}

// append serialises entry as JSON and fsync-writes it. fsync (Sync)
// forces the OS to flush its write buffer to physical media — without it
// a crash could lose the entry even though Write returned nil.
func (w *wal) append(entry walEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if _, err := w.file.Write(data); err != nil {
		return err
	}
	return w.file.Sync() // flush to disk — this is the "D" in ACID
}

// readAll scans the WAL file from the beginning and returns all entries.
func (w *wal) readAll() ([]walEntry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.file.Seek(0, 0); err != nil {
		return nil, err
	}

	var entries []walEntry
	scanner := bufio.NewScanner(w.file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e walEntry
		if err := sonic.Unmarshal(line, &e); err != nil {
			// Corrupt entry — skip it. A production system would stop here
			// and alert an operator rather than silently skip.
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

// truncate empties the WAL after a snapshot has been taken. The open file
// is truncated in place rather than deleted and re-created.
func (w *wal) truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	_, err := w.file.Seek(0, 0)
	return err
}

func (w *wal) close() error {
	return w.file.Close()
}
