package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// LedgerFile is the file name of the processed-message ledger inside the state directory.
const LedgerFile = "processed_email_ids.json"

// Ledger records message IDs that went through the whole triage pipeline.
// Entries are never removed.
type Ledger interface {
	IsProcessed(id string) bool
	MarkProcessed(id string) error
	Len() int
	IDs() []string
}

type MemoryLedger struct {
	mu        sync.RWMutex
	processed map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{processed: make(map[string]struct{})}
}

func (m *MemoryLedger) IsProcessed(id string) bool {
	if id == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.processed[id]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) MarkProcessed(id string) error {
	if id == "" {
		return nil
	}

	m.mu.Lock()
	m.processed[id] = struct{}{}
	m.mu.Unlock()
	return nil
}

func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	count := len(m.processed)
	m.mu.RUnlock()
	return count
}

// IDs returns the recorded IDs in sorted order.
func (m *MemoryLedger) IDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.processed))
	for id := range m.processed {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// FileLedger persists the processed set as a JSON document so restarts skip
// messages that were already handled. Every save rewrites the whole document
// into a temporary file and renames it over the canonical one.
type FileLedger struct {
	*MemoryLedger
	path    string
	logger  *slog.Logger
	writeMu sync.Mutex
}

type ledgerDocument struct {
	ProcessedIDs []string `json:"processed_ids"`
}

// NewFileLedger loads the ledger from stateDir. A missing or unreadable file
// yields an empty ledger.
func NewFileLedger(stateDir string, logger *slog.Logger) (*FileLedger, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	ledger := &FileLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         filepath.Join(stateDir, LedgerFile),
		logger:       logger,
	}

	if err := ledger.load(); err != nil {
		if logger != nil {
			logger.Warn("ledger unreadable, starting with an empty set", "path", ledger.path, "err", err)
		}
		ledger.MemoryLedger = NewMemoryLedger()
	} else if logger != nil {
		logger.Info("ledger loaded", "path", ledger.path, "processed", ledger.Len())
	}

	return ledger, nil
}

// Path returns the canonical ledger file location.
func (f *FileLedger) Path() string {
	return f.path
}

func (f *FileLedger) load() error {
	var doc ledgerDocument
	found, err := readJSON(f.path, &doc)
	if err != nil || !found {
		return err
	}

	f.mu.Lock()
	for _, id := range doc.ProcessedIDs {
		if id != "" {
			f.processed[id] = struct{}{}
		}
	}
	f.mu.Unlock()
	return nil
}

// MarkProcessed records id in memory and then persists the full set. The
// in-memory state advances even when the durable write fails.
func (f *FileLedger) MarkProcessed(id string) error {
	if id == "" {
		return nil
	}
	if err := f.MemoryLedger.MarkProcessed(id); err != nil {
		return err
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := writeJSONAtomic(f.path, ledgerDocument{ProcessedIDs: f.IDs()}); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("parse %s: %w", path, err)
	}
	return true, nil
}

func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op once the rename succeeded
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
