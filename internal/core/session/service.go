package session

import (
	"context"
	"time"

	"github.com/steveyiyo/voicebridge/internal/persona"
	"github.com/steveyiyo/voicebridge/internal/repo/memory"
	"github.com/steveyiyo/voicebridge/pkg/types"

	"github.com/google/uuid"
)

type Service struct {
	Repo *memory.SessionRepo
	Now  func() time.Time
}

func NewService(repo *memory.SessionRepo) *Service {
	return &Service{Repo: repo, Now: time.Now}
}

// Expire removes records older than retention.
func (s *Service) Expire(retention time.Duration) int {
	return s.Repo.Sweep(s.Now().Add(-retention))
}

// RunJanitor calls Expire every interval until ctx is done.
func (s *Service) RunJanitor(ctx context.Context, interval, retention time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Expire(retention)
		}
	}
}

// Open records a new session bound to p and returns its id.
func (s *Service) Open(transport types.Transport, p persona.Params) string {
	id := "sess_" + uuid.NewString()
	s.Repo.Save(memory.Session{
		ID:        id,
		Transport: transport,
		PersonaID: p.PersonaID,
		Voice:     p.Voice,
		Model:     p.Model,
		Status:    memory.StatusActive,
		CreatedAt: s.Now(),
	})
	return id
}

// Fail marks a session whose upstream step was rejected.
func (s *Service) Fail(id string, upstreamStatus int) {
	s.Repo.Update(id, func(sess *memory.Session) {
		sess.Status = memory.StatusFailed
		sess.UpstreamStatus = upstreamStatus
		sess.ClosedAt = s.Now()
	})
}

func (s *Service) Close(id string) {
	s.Repo.Update(id, func(sess *memory.Session) {
		if sess.Status != memory.StatusActive {
			return
		}
		sess.Status = memory.StatusClosed
		sess.ClosedAt = s.Now()
	})
}

func (s *Service) Summary(id string) (types.SummaryResp, bool) {
	sess, ok := s.Repo.Get(id)
	if !ok {
		return types.SummaryResp{}, false
	}
	sum := types.SummaryResp{
		SessionID:      sess.ID,
		Transport:      sess.Transport,
		PersonaID:      sess.PersonaID,
		Voice:          sess.Voice,
		Model:          sess.Model,
		Status:         string(sess.Status),
		UpstreamStatus: sess.UpstreamStatus,
		CreatedAt:      sess.CreatedAt.UnixMilli(),
	}
	if !sess.ClosedAt.IsZero() {
		sum.ClosedAt = sess.ClosedAt.UnixMilli()
	}
	return sum, true
}
