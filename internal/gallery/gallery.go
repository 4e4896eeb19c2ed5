// Package gallery implements C6, the per-user embedding store: load,
// save, tiered cosine matching, and FIFO-bounded adaptive appends.
// Files are written write-to-temp-then-rename and readers treat a
// missing gallery as "unenrolled" rather than an error.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/npy"
)

// Config mirrors the storage.* and adaptive.* config keys relevant to
// the gallery store.
type Config struct {
	StateDir    string
	MinEnrolled int
	MaxAdaptive int
	MaxAge      time.Duration
}

// Store owns per-user gallery files under StateDir. It is safe for
// concurrent use: writes are serialized per user via an in-process
// exclusive per-user file lock table, while reads remain lock-free
// against the last consistent snapshot.
type Store struct {
	cfg Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg, locks: map[string]*sync.Mutex{}}
}

func (s *Store) lockFor(user string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[user]
	if !ok {
		l = &sync.Mutex{}
		s.locks[user] = l
	}
	return l
}

func (s *Store) galleryPath(user string) string {
	return filepath.Join(s.cfg.StateDir, fmt.Sprintf("gallery_%s.npy", user))
}

func (s *Store) headerPath(user string) string {
	return filepath.Join(s.cfg.StateDir, fmt.Sprintf("gallery_%s.json", user))
}

// Load returns the user's gallery. A missing gallery file yields a zero
// Gallery and ok=false, which callers must treat as "unenrolled"
// (domain.ErrUnenrolledUser), not an internal error.
func (s *Store) Load(user string) (domain.Gallery, bool, error) {
	m, err := npy.ReadFile(s.galleryPath(user))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.Gallery{}, false, nil
		}
		return domain.Gallery{}, false, domain.ErrGalleryCorrupt.WithError(err)
	}

	hb, err := os.ReadFile(s.headerPath(user))
	if err != nil {
		return domain.Gallery{}, false, domain.ErrGalleryCorrupt.WithError(err)
	}
	var hdr domain.Header
	if err := json.Unmarshal(hb, &hdr); err != nil {
		return domain.Gallery{}, false, domain.ErrGalleryCorrupt.WithError(err)
	}
	if hdr.SegmentBoundary > m.Rows {
		return domain.Gallery{}, false, domain.ErrGalleryCorrupt
	}

	g := domain.Gallery{
		User:         user,
		CreatedAt:    hdr.CreatedAt,
		WearsGlasses: hdr.WearsGlasses,
	}
	for i := 0; i < hdr.SegmentBoundary; i++ {
		g.Enrolled = append(g.Enrolled, domain.Embedding{Vector: append([]float64(nil), m.At(i)...)})
	}
	for i := hdr.SegmentBoundary; i < m.Rows; i++ {
		g.Adaptive = append(g.Adaptive, domain.Embedding{Vector: append([]float64(nil), m.At(i)...)})
	}
	return g, true, nil
}

// Save persists g's enrolled+adaptive segments as a single npy matrix
// plus its JSON sidecar, atomically.
func (s *Store) Save(g domain.Gallery) error {
	lock := s.lockFor(g.User)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(s.cfg.StateDir, 0o700); err != nil {
		return domain.ErrIOWrite.WithError(err)
	}

	all := g.All()
	rows := make([][]float64, len(all))
	for i, e := range all {
		rows[i] = e.Vector
	}
	if err := npy.WriteFileAtomic(s.galleryPath(g.User), npy.NewMatrix(rows)); err != nil {
		return domain.ErrIOWrite.WithError(err)
	}

	hdr := domain.Header{
		CreatedAt:       g.CreatedAt,
		SegmentBoundary: len(g.Enrolled),
		WearsGlasses:    g.WearsGlasses,
	}
	hb, err := json.MarshalIndent(hdr, "", "  ")
	if err != nil {
		return domain.ErrIOWrite.WithError(err)
	}
	tmp := s.headerPath(g.User) + ".tmp"
	if err := os.WriteFile(tmp, hb, 0o600); err != nil {
		return domain.ErrIOWrite.WithError(err)
	}
	return os.Rename(tmp, s.headerPath(g.User))
}

// AppendEnrolled adds emb to g's enrolled segment (called only during
// enrollment; never evicted by adaptation).
func AppendEnrolled(g *domain.Gallery, emb domain.Embedding) {
	g.Enrolled = append(g.Enrolled, emb)
}

// AppendAdaptive adds emb to g's adaptive segment, evicting FIFO-oldest
// once at MaxAdaptive.
func (s *Store) AppendAdaptive(g *domain.Gallery, emb domain.Embedding) {
	g.AppendAdaptive(emb, s.cfg.MaxAdaptive)
}

// Match compares probe against every enrolled user's gallery under
// StateDir and returns the closest match (min-distance, ties broken by
// most-recent write time). ok is false if no usable, non-expired
// gallery exists. An expired gallery is excluded from 1:N matching the
// same way a single targeted user is rejected at session start.
func (s *Store) Match(probe domain.Embedding, users []string, now time.Time) (domain.MatchResult, bool, error) {
	var best domain.MatchResult
	found := false

	for _, user := range users {
		g, ok, err := s.Load(user)
		if err != nil {
			return domain.MatchResult{}, false, err
		}
		if !ok || !g.Usable(s.cfg.MinEnrolled) || s.Expired(g, now) {
			continue
		}

		minDist := 2.0 // cosine distance is bounded in [0, 2]
		for _, e := range g.All() {
			d := domain.CosineDistance(probe, e)
			if d < minDist {
				minDist = d
			}
		}

		writeAt := s.writeTime(user)
		if !found || minDist < best.Distance ||
			(minDist == best.Distance && writeAt.After(best.LastWriteAt)) {
			best = domain.MatchResult{User: user, Distance: minDist, LastWriteAt: writeAt}
			found = true
		}
	}
	return best, found, nil
}

func (s *Store) writeTime(user string) time.Time {
	fi, err := os.Stat(s.galleryPath(user))
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}

// Expired reports whether g has aged past the store's configured max age.
func (s *Store) Expired(g domain.Gallery, now time.Time) bool {
	return g.Expired(now, s.cfg.MaxAge)
}

// ListUsers returns the usernames with a gallery file under StateDir.
func (s *Store) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.StateDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, domain.ErrIOWrite.WithError(err)
	}
	var users []string
	for _, e := range entries {
		name := e.Name()
		const prefix, suffix = "gallery_", ".npy"
		if len(name) > len(prefix)+len(suffix) && name[:len(prefix)] == prefix && name[len(name)-len(suffix):] == suffix {
			users = append(users, name[len(prefix):len(name)-len(suffix)])
		}
	}
	return users, nil
}

// EnrolledUsers returns the usernames with a valid, non-expired gallery
// under StateDir, for the public-facing get_enrolled_users listing.
func (s *Store) EnrolledUsers(now time.Time) ([]string, error) {
	all, err := s.ListUsers()
	if err != nil {
		return nil, err
	}
	var users []string
	for _, user := range all {
		g, ok, err := s.Load(user)
		if err != nil {
			return nil, err
		}
		if !ok || s.Expired(g, now) {
			continue
		}
		users = append(users, user)
	}
	return users, nil
}
