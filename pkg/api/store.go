package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/spellrun/spell/pkg/bus"
	"github.com/spellrun/spell/pkg/errs"
	"github.com/spellrun/spell/pkg/fsutil"
)

// idempotencyEntry binds an Idempotency-Key to its first execution and
// the canonical hash of the body that created it.
type idempotencyEntry struct {
	ExecutionID string `json:"execution_id"`
	BodyHash    string `json:"body_hash"`
}

// indexFile is the persisted logs/index.json document. The in-memory
// maps are rebuilt from it at startup, so a restart loses nothing but
// in-flight executions.
type indexFile struct {
	Version     string                      `json:"version"`
	Executions  []*Record                   `json:"executions"`
	Idempotency map[string]idempotencyEntry `json:"idempotency,omitempty"`
}

// Store is the execution index: in-memory maps mirrored to index.json on
// every mutation, with transitions published to the event bus and
// appended to the tenant audit log.
type Store struct {
	mu          sync.RWMutex
	indexPath   string
	auditPath   string
	records     map[string]*Record
	idempotency map[string]idempotencyEntry
	bus         *bus.Bus
	logger      *slog.Logger
}

// OpenStore loads (or initializes) the index under logsDir.
func OpenStore(logsDir string, b *bus.Bus, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("index: create logs dir: %w", err)
	}
	s := &Store{
		indexPath:   filepath.Join(logsDir, "index.json"),
		auditPath:   filepath.Join(logsDir, "tenant-audit.jsonl"),
		records:     make(map[string]*Record),
		idempotency: make(map[string]idempotencyEntry),
		bus:         b,
		logger:      logger,
	}

	data, err := os.ReadFile(s.indexPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("index: read: %w", err)
	}
	var idx indexFile
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("index: parse: %w", err)
	}
	for _, rec := range idx.Executions {
		// In-flight executions did not survive the restart.
		if !TerminalStatus(rec.Status) {
			rec.Status = StatusFailed
			rec.ErrorCode = errs.CodeInternal
			rec.Error = "interrupted by server restart"
			now := time.Now().UTC()
			rec.FinishedAt = &now
		}
		s.records[rec.ExecutionID] = rec
	}
	for k, v := range idx.Idempotency {
		s.idempotency[k] = v
	}
	return s, nil
}

// Create registers a new queued record.
func (s *Store) Create(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ExecutionID]; exists {
		return fmt.Errorf("index: duplicate execution id %s", rec.ExecutionID)
	}
	s.records[rec.ExecutionID] = rec
	if err := s.persistLocked(); err != nil {
		delete(s.records, rec.ExecutionID)
		return err
	}
	s.announceLocked(rec)
	return nil
}

// Update applies fn to the record under the lock, persists, and publishes
// the transition. fn may return an error to abort without mutating.
func (s *Store) Update(executionID string, fn func(*Record) error) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[executionID]
	if !ok {
		return nil, errs.New(errs.CodeNotFound, "execution %s not found", executionID)
	}
	before := *rec
	if err := fn(rec); err != nil {
		*rec = before
		return nil, err
	}
	if err := s.persistLocked(); err != nil {
		*rec = before
		return nil, err
	}
	if rec.Status != before.Status {
		s.announceLocked(rec)
	}
	return rec.Clone(), nil
}

// Get returns a copy of the record, or nil.
func (s *Store) Get(executionID string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if rec, ok := s.records[executionID]; ok {
		return rec.Clone()
	}
	return nil
}

// List returns matching records, newest submission first.
func (s *Store) List(f Filter) []*Record {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		if f.Match(rec) {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].SubmittedAt.After(out[j].SubmittedAt)
		}
		return out[i].ExecutionID > out[j].ExecutionID
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

// CountActive returns the number of non-terminal executions globally and
// for one tenant.
func (s *Store) CountActive(tenant string) (global, forTenant int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, rec := range s.records {
		if TerminalStatus(rec.Status) {
			continue
		}
		global++
		if tenant != "" && rec.TenantID == tenant {
			forTenant++
		}
	}
	return global, forTenant
}

// SubmissionsSince counts a tenant's submissions after the cutoff.
func (s *Store) SubmissionsSince(tenant string, since time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.records {
		if rec.TenantID == tenant && rec.SubmittedAt.After(since) {
			n++
		}
	}
	return n
}

// IdempotencyLookup returns the binding for a key.
func (s *Store) IdempotencyLookup(key string) (idempotencyEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.idempotency[key]
	return e, ok
}

// IdempotencyBind persists a key binding alongside the new record. Both
// are written in one index update.
func (s *Store) IdempotencyBind(key, executionID, bodyHash string, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ExecutionID]; exists {
		return fmt.Errorf("index: duplicate execution id %s", rec.ExecutionID)
	}
	s.records[rec.ExecutionID] = rec
	s.idempotency[key] = idempotencyEntry{ExecutionID: executionID, BodyHash: bodyHash}
	if err := s.persistLocked(); err != nil {
		delete(s.records, rec.ExecutionID)
		delete(s.idempotency, key)
		return err
	}
	s.announceLocked(rec)
	return nil
}

// Prune enforces the retention policy over terminal records: keep at most
// maxFiles and drop records older than retentionDays, deleting the
// receipt files to match.
func (s *Store) Prune(maxFiles, retentionDays int, receiptPath func(string) string) {
	if maxFiles <= 0 && retentionDays <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var terminal []*Record
	for _, rec := range s.records {
		if TerminalStatus(rec.Status) {
			terminal = append(terminal, rec)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].SubmittedAt.Before(terminal[j].SubmittedAt)
	})

	drop := make(map[string]bool)
	if retentionDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		for _, rec := range terminal {
			if rec.SubmittedAt.Before(cutoff) {
				drop[rec.ExecutionID] = true
			}
		}
	}
	if maxFiles > 0 {
		kept := 0
		for i := len(terminal) - 1; i >= 0; i-- {
			if drop[terminal[i].ExecutionID] {
				continue
			}
			kept++
			if kept > maxFiles {
				drop[terminal[i].ExecutionID] = true
			}
		}
	}
	if len(drop) == 0 {
		return
	}

	for id := range drop {
		delete(s.records, id)
		if receiptPath != nil {
			if err := os.Remove(receiptPath(id)); err != nil && !os.IsNotExist(err) {
				s.logger.Warn("receipt prune failed", "execution_id", id, "error", err)
			}
		}
	}
	for key, entry := range s.idempotency {
		if drop[entry.ExecutionID] {
			delete(s.idempotency, key)
		}
	}
	if err := s.persistLocked(); err != nil {
		s.logger.Warn("index prune persist failed", "error", err)
	}
}

func (s *Store) persistLocked() error {
	idx := indexFile{Version: "v1", Idempotency: s.idempotency}
	idx.Executions = make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		idx.Executions = append(idx.Executions, rec)
	}
	sort.Slice(idx.Executions, func(i, j int) bool {
		return idx.Executions[i].ExecutionID < idx.Executions[j].ExecutionID
	})
	data, err := json.MarshalIndent(&idx, "", "  ")
	if err != nil {
		return fmt.Errorf("index: marshal: %w", err)
	}
	return fsutil.WriteFileAtomic(s.indexPath, data, 0o644)
}

// announceLocked publishes the transition and appends the audit line.
func (s *Store) announceLocked(rec *Record) {
	cp := rec.Clone()
	if s.bus != nil {
		s.bus.Publish(bus.TopicList, bus.Frame{Event: bus.EventExecutions, Data: cp})
		topic := bus.ExecutionTopic(rec.ExecutionID)
		if TerminalStatus(rec.Status) {
			s.bus.Publish(topic, bus.Frame{Event: bus.EventTerminal, Data: cp})
			s.bus.CloseTopic(topic)
		} else {
			s.bus.Publish(topic, bus.Frame{Event: bus.EventUpdate, Data: cp})
		}
	}
	s.appendAudit(rec)
}

type auditLine struct {
	Timestamp   time.Time `json:"timestamp"`
	TenantID    string    `json:"tenant_id,omitempty"`
	ExecutionID string    `json:"execution_id"`
	ButtonID    string    `json:"button_id,omitempty"`
	Status      string    `json:"status"`
	ErrorCode   string    `json:"error_code,omitempty"`
}

func (s *Store) appendAudit(rec *Record) {
	line := auditLine{
		Timestamp:   time.Now().UTC(),
		TenantID:    rec.TenantID,
		ExecutionID: rec.ExecutionID,
		ButtonID:    rec.ButtonID,
		Status:      rec.Status,
		ErrorCode:   rec.ErrorCode,
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		s.logger.Warn("audit append failed", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		s.logger.Warn("audit append failed", "error", err)
	}
}
