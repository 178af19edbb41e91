package memory

import (
	"sync"
	"time"

	"github.com/steveyiyo/voicebridge/pkg/types"
)

type Status string

const (
	StatusActive Status = "active"
	StatusFailed Status = "failed"
	StatusClosed Status = "closed"
)

// Session is bookkeeping only. Credentials and upstream secrets are never stored.
type Session struct {
	ID             string
	Transport      types.Transport
	PersonaID      string
	Voice          types.VoiceID
	Model          string
	Status         Status
	UpstreamStatus int
	CreatedAt      time.Time
	ClosedAt       time.Time
}

// DefaultMaxRecords bounds the repo when NewSessionRepo is given no limit.
const DefaultMaxRecords = 10000

type SessionRepo struct {
	mu  sync.Mutex
	m   map[string]Session
	max int
}

func NewSessionRepo(max int) *SessionRepo {
	if max <= 0 {
		max = DefaultMaxRecords
	}
	return &SessionRepo{m: map[string]Session{}, max: max}
}

// Save stores s. At capacity the oldest record is evicted first.
func (r *SessionRepo) Save(s Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[s.ID]; !ok && len(r.m) >= r.max {
		r.evictOldest()
	}
	r.m[s.ID] = s
}

func (r *SessionRepo) evictOldest() {
	var (
		oldest string
		at     time.Time
	)
	for id, s := range r.m {
		if oldest == "" || s.CreatedAt.Before(at) {
			oldest, at = id, s.CreatedAt
		}
	}
	delete(r.m, oldest)
}

// Sweep drops finished records closed before cutoff and active records
// created before it. It returns the number removed.
func (r *SessionRepo) Sweep(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, s := range r.m {
		at := s.ClosedAt
		if s.Status == StatusActive || at.IsZero() {
			at = s.CreatedAt
		}
		if at.Before(cutoff) {
			delete(r.m, id)
			n++
		}
	}
	return n
}

func (r *SessionRepo) Get(id string) (Session, bool) {
	r.mu.Lock()
	s, ok := r.m[id]
	r.mu.Unlock()
	return s, ok
}

// Update applies fn to the stored record. It reports false for unknown ids.
func (r *SessionRepo) Update(id string, fn func(*Session)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return false
	}
	fn(&s)
	r.m[id] = s
	return true
}

func (r *SessionRepo) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
