package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xorcare/pointer"
)

func TestSubmissionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New()

	sub := &model.Submission{UserID: 1, ProblemID: 2, Code: "print(1)", Status: model.StatusReceived}
	require.NoError(t, s.CreateSubmission(ctx, sub))
	assert.Equal(t, int64(1), sub.ID)

	got, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "print(1)", got.Code)

	// returned copies are detached from the store
	got.Status = model.StatusAccepted
	again, err := s.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReceived, again.Status)

	_, err = s.GetSubmission(ctx, 99)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpdateStatusIsCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub := &model.Submission{Status: model.StatusReceived}
	require.NoError(t, s.CreateSubmission(ctx, sub))

	ok, err := s.UpdateStatus(ctx, sub.ID, model.StatusRunning, model.StatusAccepted, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.UpdateStatus(ctx, sub.ID, model.StatusReceived, model.StatusRunning, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateStatus(ctx, 42, model.StatusReceived, model.StatusRunning, "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := New()
	sub := &model.Submission{Status: model.StatusReceived}
	require.NoError(t, s.CreateSubmission(ctx, sub))

	var (
		wins int32
		wg   sync.WaitGroup
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpdateStatus(ctx, sub.ID, model.StatusReceived, model.StatusRunning, "")
			if assert.NoError(t, err) && ok {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestListSubmissionsFilters(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	for i := 0; i < 4; i++ {
		sub := &model.Submission{UserID: int64(i%2 + 1), ProblemID: 7, Status: model.StatusReceived}
		require.NoError(t, s.CreateSubmission(ctx, sub))
	}
	s.now = func() time.Time { return base.Add(time.Hour) }
	_, err := s.UpdateStatus(ctx, 4, model.StatusReceived, model.StatusRunning, "")
	require.NoError(t, err)

	all, err := s.ListSubmissions(ctx, model.SubmissionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, int64(4), all[0].ID)

	byUser, err := s.ListSubmissions(ctx, model.SubmissionFilter{UserID: 2})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	stale, err := s.ListSubmissions(ctx, model.SubmissionFilter{
		Status:        model.StatusReceived,
		UpdatedBefore: base.Add(time.Minute),
		Limit:         2,
	})
	require.NoError(t, err)
	assert.Len(t, stale, 2)

	running, err := s.ListSubmissions(ctx, model.SubmissionFilter{Status: model.StatusRunning, UpdatedBefore: base.Add(time.Minute)})
	require.NoError(t, err)
	assert.Empty(t, running)
}

func TestProblems(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.GetProblem(ctx, 1)
	assert.ErrorIs(t, err, model.ErrNotFound)

	require.NoError(t, s.UpsertProblem(ctx, &model.Problem{ID: 1, Title: "Sum", InputExample: pointer.String("2 3")}))
	p, err := s.GetProblem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Sum", p.Title)
	assert.False(t, p.HasTestCase())
}
