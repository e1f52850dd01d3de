// Package memory is an in-process submission/problem store with the same
// compare-and-set semantics as the PostgreSQL store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/itstheanurag/codejudge/internal/model"
)

type Store struct {
	mu          sync.RWMutex
	nextID      int64
	submissions map[int64]model.Submission
	problems    map[int64]model.Problem
	now         func() time.Time
}

func New() *Store {
	return &Store{
		submissions: make(map[int64]model.Submission),
		problems:    make(map[int64]model.Problem),
		now:         time.Now,
	}
}

func (s *Store) CreateSubmission(_ context.Context, sub *model.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	sub.ID = s.nextID
	if sub.UpdatedAt.IsZero() {
		sub.UpdatedAt = s.now()
	}
	s.submissions[sub.ID] = *sub
	return nil
}

func (s *Store) GetSubmission(_ context.Context, id int64) (*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &sub, nil
}

func (s *Store) DeleteSubmission(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[id]; !ok {
		return model.ErrNotFound
	}
	delete(s.submissions, id)
	return nil
}

// UpdateStatus writes to only if the stored status is still from.
func (s *Store) UpdateStatus(_ context.Context, id int64, from, to model.Status, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[id]
	if !ok || sub.Status != from {
		return false, nil
	}
	sub.Status = to
	sub.Reason = reason
	sub.UpdatedAt = s.now()
	s.submissions[id] = sub
	return true, nil
}

func (s *Store) ListSubmissions(_ context.Context, f model.SubmissionFilter) ([]*model.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.Submission, 0)
	for _, sub := range s.submissions {
		if f.UserID > 0 && sub.UserID != f.UserID {
			continue
		}
		if f.ProblemID > 0 && sub.ProblemID != f.ProblemID {
			continue
		}
		if f.Status != "" && sub.Status != f.Status {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !sub.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		sub := sub
		out = append(out, &sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetProblem(_ context.Context, id int64) (*model.Problem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.problems[id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return &p, nil
}

func (s *Store) UpsertProblem(_ context.Context, p *model.Problem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.problems[p.ID] = *p
	return nil
}

func (s *Store) Close() error {
	return nil
}
