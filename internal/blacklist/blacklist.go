// Package blacklist implements C7: a quarantine index of intrusion
// embeddings. Every authentication tick is checked against it before
// C4-C6 run; unconfirmed intrusions live under a quarantine directory
// until a human promotes or deletes them via the review workflow.
package blacklist

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/npy"
)

// Config mirrors the security.blacklist_match_threshold config key plus
// the quarantine directory location.
type Config struct {
	QuarantineDir  string
	MatchThreshold float64
}

// Manager owns the in-memory blacklist index and its on-disk quarantine
// mirror. All writes are appended under a directory-level lock.
type Manager struct {
	cfg Config

	mu      sync.Mutex
	entries map[uuid.UUID]*domain.BlacklistEntry
}

func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, entries: map[uuid.UUID]*domain.BlacklistEntry{}}
}

// Load populates the in-memory index from the quarantine directory's
// sidecar metadata files; call once at startup.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, err := os.ReadDir(m.cfg.QuarantineDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return domain.ErrIOWrite.WithError(err)
	}
	for _, e := range entries {
		name := e.Name()
		const suffix = ".json"
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		meta, err := m.readMeta(name[:len(name)-len(suffix)])
		if err != nil {
			continue
		}
		mat, err := npy.ReadFile(filepath.Join(m.cfg.QuarantineDir, meta.ID.String()+".npy"))
		if err != nil || mat.Rows == 0 {
			continue
		}
		meta.Embedding = domain.Embedding{Vector: mat.At(0)}
		m.entries[meta.ID] = meta
	}
	return nil
}

// PreMatch compares probe against every quarantined embedding and
// reports the closest match. Callers terminate the session immediately
// with BLOCKED_INTRUDER when the returned distance is <= MatchThreshold.
func (m *Manager) PreMatch(probe domain.Embedding) (id uuid.UUID, dist float64, hit bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	best := 2.0
	var bestID uuid.UUID
	found := false
	for eid, entry := range m.entries {
		d := domain.CosineDistance(probe, entry.Embedding)
		if d < best {
			best, bestID, found = d, eid, true
		}
	}
	if !found || best > m.cfg.MatchThreshold {
		return uuid.UUID{}, best, false
	}
	return bestID, best, true
}

// RecordHit increments an existing entry's hit count (a repeat sighting
// of an already-quarantined subject).
func (m *Manager) RecordHit(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.HitCount++
	}
}

// Quarantine writes a brand-new intrusion (embedding.npy + screenshot)
// pair and indexes it as unconfirmed.
func (m *Manager) Quarantine(emb domain.Embedding, screenshot []byte) (*domain.BlacklistEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.QuarantineDir, 0o700); err != nil {
		return nil, domain.ErrIOWrite.WithError(err)
	}

	entry := &domain.BlacklistEntry{
		ID:        uuid.New(),
		Embedding: emb,
		FirstSeen: time.Now(),
		HitCount:  1,
	}
	npyPath := filepath.Join(m.cfg.QuarantineDir, entry.ID.String()+".npy")
	if err := npy.WriteFileAtomic(npyPath, npy.NewMatrix([][]float64{emb.Vector})); err != nil {
		return nil, domain.ErrIOWrite.WithError(err)
	}

	if len(screenshot) > 0 {
		jpgPath := filepath.Join(m.cfg.QuarantineDir, entry.ID.String()+".jpg")
		if err := writeAtomic(jpgPath, screenshot); err != nil {
			return nil, domain.ErrIOWrite.WithError(err)
		}
		entry.ScreenshotRef = jpgPath
	}

	if err := m.writeMeta(entry); err != nil {
		return nil, err
	}

	m.entries[entry.ID] = entry
	return entry, nil
}

// ConfirmIntrusion marks a quarantined entry as permanently confirmed by
// a human reviewer.
func (m *Manager) ConfirmIntrusion(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrInternal.WithError(errors.New("no such quarantine entry"))
	}
	e.Confirmed = true
	return m.writeMeta(e)
}

// DeleteIntrusion removes a quarantined entry that a human reviewer
// judged to be a false positive.
func (m *Manager) DeleteIntrusion(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return domain.ErrInternal.WithError(errors.New("no such quarantine entry"))
	}
	delete(m.entries, id)
	os.Remove(filepath.Join(m.cfg.QuarantineDir, id.String()+".npy"))
	os.Remove(filepath.Join(m.cfg.QuarantineDir, id.String()+".json"))
	if e.ScreenshotRef != "" {
		os.Remove(e.ScreenshotRef)
	}
	return nil
}

// EntryPath returns the on-disk embedding file path for a quarantine
// entry, the filename the get_intrusions/confirm_intrusion/
// delete_intrusion RPCs exchange with callers.
func (m *Manager) EntryPath(id uuid.UUID) string {
	return filepath.Join(m.cfg.QuarantineDir, id.String()+".npy")
}

// List returns all quarantined entries, confirmed and unconfirmed, for
// the get_intrusions RPC.
func (m *Manager) List() []domain.BlacklistEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BlacklistEntry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}

type entryMeta struct {
	ID            uuid.UUID `json:"id"`
	FirstSeen     time.Time `json:"first_seen"`
	HitCount      int       `json:"hit_count"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	Confirmed     bool      `json:"confirmed"`
}

func (m *Manager) metaPath(id uuid.UUID) string {
	return filepath.Join(m.cfg.QuarantineDir, id.String()+".json")
}

func (m *Manager) writeMeta(e *domain.BlacklistEntry) error {
	meta := entryMeta{ID: e.ID, FirstSeen: e.FirstSeen, HitCount: e.HitCount, ScreenshotRef: e.ScreenshotRef, Confirmed: e.Confirmed}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return domain.ErrIOWrite.WithError(err)
	}
	return writeAtomic(m.metaPath(e.ID), b)
}

func (m *Manager) readMeta(idStr string) (*domain.BlacklistEntry, error) {
	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(m.metaPath(id))
	if err != nil {
		return nil, err
	}
	var meta entryMeta
	if err := json.Unmarshal(b, &meta); err != nil {
		return nil, err
	}
	return &domain.BlacklistEntry{
		ID: meta.ID, FirstSeen: meta.FirstSeen, HitCount: meta.HitCount,
		ScreenshotRef: meta.ScreenshotRef, Confirmed: meta.Confirmed,
	}, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
