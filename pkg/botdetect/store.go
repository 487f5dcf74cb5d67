package botdetect

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"tzlogs/pkg/failures"
)

const DefaultReloadInterval = time.Minute

// Store serves the current model and reloads it when the artifact file changes.
// Readers see either the previous or the next model, never a partial one.
type Store struct {
	path           string
	reloadInterval time.Duration
	now            func() time.Time

	current atomic.Pointer[Model]

	mu      sync.Mutex
	modTime time.Time
	checked time.Time
}

func NewStore(path string) *Store {
	return &Store{
		path:           path,
		reloadInterval: DefaultReloadInterval,
		now:            time.Now,
	}
}

// Path is the artifact location.
func (s *Store) Path() string {
	return s.path
}

// Current returns the loaded model, loading it on first use. The file's modification
// time is checked at most once per reload interval.
func (s *Store) Current() (*Model, error) {
	m := s.current.Load()
	if m != nil && s.now().Sub(s.lastCheck()) < s.reloadInterval {
		return m, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checked = s.now()

	info, err := os.Stat(s.path)
	if err != nil {
		if m != nil {
			return m, nil
		}
		return nil, failures.Newf(failures.KindModelMissing, "botdetect.Store", "no model at %s", s.path)
	}

	m = s.current.Load()
	if m != nil && info.ModTime().Equal(s.modTime) {
		return m, nil
	}

	loaded, err := Load(s.path)
	if err != nil {
		if m != nil {
			return m, nil
		}
		return nil, err
	}
	s.current.Store(loaded)
	s.modTime = info.ModTime()
	return loaded, nil
}

// Publish persists a freshly trained model and makes it current.
func (s *Store) Publish(m *Model) error {
	if err := Save(s.path, m); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if info, err := os.Stat(s.path); err == nil {
		s.modTime = info.ModTime()
	}
	s.checked = s.now()
	s.current.Store(m)
	return nil
}

func (s *Store) lastCheck() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checked
}
