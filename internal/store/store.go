package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnavailable means the root path cannot serve as the store directory.
	// Construction fails with it; nothing is retried internally.
	ErrUnavailable = errors.New("store: root directory unavailable")

	// ErrWriteFailed means a single Put could not publish its file.
	// The store is left without a partial artifact.
	ErrWriteFailed = errors.New("store: write failed")
)

// quarantineSuffix is appended to a corrupt file's name under PolicyQuarantine.
// The result no longer matches the ping file name encoding.
const quarantineSuffix = ".corrupt"

// CorruptPolicy controls what All does with a file whose name matches the
// encoding but whose contents cannot be decoded.
type CorruptPolicy int

const (
	// PolicyWarn skips the file and logs a warning. Default.
	PolicyWarn CorruptPolicy = iota

	// PolicyIgnore skips the file silently. It is still counted in Stats.
	PolicyIgnore

	// PolicyQuarantine renames the file aside so later enumerations no
	// longer see it, and logs a warning.
	PolicyQuarantine
)

// ParseCorruptPolicy maps a config string to a CorruptPolicy.
// The empty string selects the default (warn).
func ParseCorruptPolicy(s string) (CorruptPolicy, error) {
	switch s {
	case "", "warn":
		return PolicyWarn, nil
	case "ignore":
		return PolicyIgnore, nil
	case "quarantine":
		return PolicyQuarantine, nil
	default:
		return PolicyWarn, fmt.Errorf("store: unknown corrupt policy %q", s)
	}
}

// Ping is one persisted telemetry record: an opaque payload document plus the
// destination path it must be delivered to, keyed by a caller-assigned,
// monotonically increasing, never-reused integer ID.
type Ping struct {
	ID          int64
	Destination string
	Payload     json.RawMessage
}

// document is the on-disk JSON shape of one ping. The ID lives in the file
// name, not the body.
type document struct {
	Destination string          `json:"destination"`
	Payload     json.RawMessage `json:"payload"`
}

// Stats holds the store's lifetime operation counters.
type Stats struct {
	Stored         uint64 `json:"stored"`
	Pruned         uint64 `json:"pruned"`
	Acknowledged   uint64 `json:"acknowledged"`
	CorruptFiles   uint64 `json:"corrupt_files"`
	WriteFailures  uint64 `json:"write_failures"`
	DeleteFailures uint64 `json:"delete_failures"`
}

// Store is a durable, capacity-bounded ping store backed by one directory:
// one JSON file per ping, the ID embedded in the file name. Writes publish
// atomically (temp file + rename), so a concurrent reader of the directory
// never observes a partial record.
//
// All operations are serialized by an internal mutex; concurrent Prune and
// Acknowledge over overlapping IDs are benign because deletion of an absent
// file counts as success.
type Store struct {
	root   string
	policy CorruptPolicy

	mu     sync.Mutex
	nextID atomic.Int64

	stored         atomic.Uint64
	pruned         atomic.Uint64
	acked          atomic.Uint64
	corrupt        atomic.Uint64
	writeFailures  atomic.Uint64
	deleteFailures atomic.Uint64
}

// New binds a Store to root, creating the directory if it is missing.
// Pre-existing files are not validated here — decoding is lazy, at read time.
// The ID sequence handed out by NextID resumes past the largest ID already
// on disk.
func New(root string, policy CorruptPolicy) (*Store, error) {
	if fi, err := os.Stat(root); err == nil && !fi.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrUnavailable, root)
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// Probe writability now rather than failing on the first Put.
	probe, err := os.CreateTemp(root, ".probe-*")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	s := &Store{root: root, policy: policy}

	var maxID int64 = -1
	if entries, err := os.ReadDir(root); err == nil {
		for _, e := range entries {
			if id, err := IDFromFilename(e.Name()); err == nil && id > maxID {
				maxID = id
			}
		}
	}
	s.nextID.Store(maxID + 1)

	return s, nil
}

// Dir returns the directory the store is bound to.
func (s *Store) Dir() string { return s.root }

// NextID returns the next value of the store's monotonic ID sequence.
// Direct callers of Put may also assign their own IDs; the sequence advances
// past any ID that Put sees.
func (s *Store) NextID() int64 {
	return s.nextID.Add(1) - 1
}

// Put persists p as one new file. The publish is atomic: the document is
// written to a uniquely named temp file in the same directory and renamed
// into place, so no reader ever sees a half-written ping. On failure the
// temp file is removed and the error wraps ErrWriteFailed.
//
// Putting an ID that already exists replaces that file whole — never a merge.
// No file handle remains open when Put returns.
func (s *Store) Put(p Ping) error {
	if p.ID < 0 {
		return fmt.Errorf("%w: negative id %d", ErrWriteFailed, p.ID)
	}
	if p.Destination == "" {
		return fmt.Errorf("%w: empty destination for id %d", ErrWriteFailed, p.ID)
	}

	data, err := json.Marshal(document{Destination: p.Destination, Payload: p.Payload})
	if err != nil {
		return fmt.Errorf("%w: encode ping %d: %v", ErrWriteFailed, p.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := filepath.Join(s.root, ".tmp-"+uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		os.Remove(tmp)
		s.writeFailures.Add(1)
		return fmt.Errorf("%w: write ping %d: %v", ErrWriteFailed, p.ID, err)
	}
	if err := os.Rename(tmp, filepath.Join(s.root, Filename(p.ID))); err != nil {
		os.Remove(tmp)
		s.writeFailures.Add(1)
		return fmt.Errorf("%w: publish ping %d: %v", ErrWriteFailed, p.ID, err)
	}
	s.stored.Add(1)

	// Keep the sequence ahead of caller-assigned IDs.
	for {
		cur := s.nextID.Load()
		if p.ID < cur || s.nextID.CompareAndSwap(cur, p.ID+1) {
			break
		}
	}
	return nil
}

// All enumerates the directory and returns every decodable ping, in no
// particular order. File names that do not match the encoding are ignored;
// matching files with undecodable contents are handled per the store's
// CorruptPolicy and never abort the enumeration.
func (s *Store) All() ([]Ping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: read dir %s: %w", s.root, err)
	}

	pings := make([]Ping, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		id, err := IDFromFilename(e.Name())
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.root, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // raced with a delete
			}
			s.handleCorrupt(e.Name(), err)
			continue
		}
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			s.handleCorrupt(e.Name(), err)
			continue
		}
		if doc.Destination == "" {
			s.handleCorrupt(e.Name(), errors.New("missing destination"))
			continue
		}
		pings = append(pings, Ping{ID: id, Destination: doc.Destination, Payload: doc.Payload})
	}
	return pings, nil
}

// Count returns the number of ping files currently in the directory.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.idsLocked()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Prune enforces the capacity bound: when more than max pings are stored it
// deletes the smallest-ID ones until max remain. The caller's IDs are the
// ordering authority, not file timestamps. Individual delete failures do not
// stop the batch; they are joined into the returned error, and removed
// reports the deletions that succeeded.
func (s *Store) Prune(max int) (removed int, err error) {
	if max < 0 {
		max = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.idsLocked()
	if err != nil {
		return 0, err
	}
	if len(ids) <= max {
		return 0, nil
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids[:len(ids)-max] {
		if derr := s.removeLocked(id); derr != nil {
			s.deleteFailures.Add(1)
			errs = append(errs, derr)
			continue
		}
		removed++
	}
	s.pruned.Add(uint64(removed))
	return removed, errors.Join(errs...)
}

// Acknowledge deletes exactly the pings named by ids — the delivered subset
// of an upload batch. IDs with no file are silently ignored (the caller may
// race with a prune or repeat an ack). Every deletion is attempted even if
// an earlier one fails. Pings not named are left untouched regardless of age.
func (s *Store) Acknowledge(ids []int64) (removed int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if err := s.removeLocked(id); err != nil {
			s.deleteFailures.Add(1)
			slog.Warn("store: acknowledge delete failed", "id", id, "err", err)
			continue
		}
		removed++
	}
	s.acked.Add(uint64(removed))
	return removed
}

// Stats returns a snapshot of the store's lifetime counters.
func (s *Store) Stats() Stats {
	return Stats{
		Stored:         s.stored.Load(),
		Pruned:         s.pruned.Load(),
		Acknowledged:   s.acked.Load(),
		CorruptFiles:   s.corrupt.Load(),
		WriteFailures:  s.writeFailures.Load(),
		DeleteFailures: s.deleteFailures.Load(),
	}
}

// Run ticks every interval and prunes the store down to max. Put never
// prunes on its own, so a store can exceed max transiently between an
// insert and the next tick. Run blocks until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration, max int) {
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Prune(max)
			if err != nil {
				slog.Warn("store: prune incomplete", "removed", n, "err", err)
				continue
			}
			if n > 0 {
				slog.Debug("store: pruned oldest pings", "removed", n, "max", max)
			}
		}
	}
}

// --- internal ---------------------------------------------------------------

// idsLocked lists the IDs of all ping files. Caller holds s.mu.
func (s *Store) idsLocked() ([]int64, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("store: read dir %s: %w", s.root, err)
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		if id, err := IDFromFilename(e.Name()); err == nil {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// removeLocked deletes the file for id. An already-absent file is success,
// which makes overlapping prune/acknowledge races benign. Caller holds s.mu.
func (s *Store) removeLocked(id int64) error {
	err := os.Remove(filepath.Join(s.root, Filename(id)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("store: delete ping %d: %w", id, err)
	}
	return nil
}

// handleCorrupt applies the configured policy to a matching-but-undecodable
// file found during enumeration. Caller holds s.mu.
func (s *Store) handleCorrupt(name string, cause error) {
	s.corrupt.Add(1)
	switch s.policy {
	case PolicyIgnore:
	case PolicyQuarantine:
		from := filepath.Join(s.root, name)
		if err := os.Rename(from, from+quarantineSuffix); err != nil {
			slog.Warn("store: quarantine failed", "file", name, "err", err)
			return
		}
		slog.Warn("store: quarantined corrupt ping file", "file", name, "cause", cause)
	default:
		slog.Warn("store: skipping corrupt ping file", "file", name, "cause", cause)
	}
}
