package score_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/event"
	"github.com/predikto/predikto/internal/score"
)

type fakePostStore struct {
	mu    sync.Mutex
	posts map[int64]*domain.Post
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{posts: make(map[int64]*domain.Post)}
}

func (f *fakePostStore) GetPost(_ context.Context, id int64) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := *f.posts[id]
	return &p, nil
}

func (f *fakePostStore) FindOfficialResult(_ context.Context, predictionID int64) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.PredictionID == predictionID && p.IsOfficialResult {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *fakePostStore) ListSubmissions(_ context.Context, predictionID int64) ([]*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Post
	for _, p := range f.posts {
		if p.PredictionID == predictionID && !p.IsOfficialResult {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *fakePostStore) MarkOfficial(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[id].IsOfficialResult = true
	return nil
}

func (f *fakePostStore) ReplaceScore(_ context.Context, id int64, total decimal.Decimal, st *domain.Structure, updateTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[id].TotalScore = total
	f.posts[id].Structure = st
	f.posts[id].UpdateTime = updateTime
	return nil
}

func rankingPost(t *testing.T, id, prediction, owner int64, teams ...int64) *domain.Post {
	t.Helper()
	return &domain.Post{
		ID:           id,
		PredictionID: prediction,
		OwnerUserID:  owner,
		Structure:    buildRanking(t, len(teams), 1, teams...),
	}
}

func TestService_PublishOfficial(t *testing.T) {
	store := newFakePostStore()
	store.posts[1] = rankingPost(t, 1, 100, 0, 1, 2, 3)   // future official
	store.posts[2] = rankingPost(t, 2, 100, 10, 1, 2, 3)  // all correct
	store.posts[3] = rankingPost(t, 3, 100, 11, 1, 3, 2)  // one correct
	store.posts[4] = rankingPost(t, 4, 200, 12, 3, 2, 1)  // other prediction

	eb := event.NewBus()

	var mu sync.Mutex
	var scored []domain.EventPostScored
	eb.Subscribe(domain.EventNamePostScored, func(ctx context.Context, e event.Event) error {
		mu.Lock()
		scored = append(scored, e.(domain.EventPostScored))
		mu.Unlock()
		return nil
	})

	s := score.NewService(score.Config{EventBus: eb, Posts: store})

	resp, err := s.PublishOfficial(context.Background(), score.PublishOfficialRequest{
		PredictionID: 100,
		PostID:       1,
	})
	require.NoError(t, err)
	require.Equal(t, 2, resp.Scored)
	require.True(t, resp.Official.IsOfficialResult)

	eb.Stop()

	require.True(t, store.posts[2].TotalScore.Equal(decimal.NewFromInt(3*domain.DefaultSlotPoints)))
	require.True(t, store.posts[3].TotalScore.Equal(decimal.NewFromInt(domain.DefaultSlotPoints)))
	require.True(t, store.posts[4].TotalScore.IsZero(), "other predictions stay untouched")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, scored, 2)

	// A second publish of a different post must be refused.
	_, err = s.PublishOfficial(context.Background(), score.PublishOfficialRequest{
		PredictionID: 100,
		PostID:       2,
	})
	require.Error(t, err)
}

func TestService_ScoreAll_Rerun(t *testing.T) {
	store := newFakePostStore()
	official := rankingPost(t, 1, 100, 0, 1, 2)
	official.IsOfficialResult = true
	store.posts[1] = official
	store.posts[2] = rankingPost(t, 2, 100, 10, 2, 1)

	s := score.NewService(score.Config{EventBus: event.NewBus(), Posts: store})

	for i := 0; i < 2; i++ {
		n, err := s.ScoreAll(context.Background(), score.ScoreAllRequest{PredictionID: 100})
		require.NoError(t, err)
		require.Equal(t, 1, n)
		require.True(t, store.posts[2].TotalScore.IsZero(), "totals replace, never accumulate")
	}
}

func TestService_ScoreAll_NoOfficial(t *testing.T) {
	s := score.NewService(score.Config{EventBus: event.NewBus(), Posts: newFakePostStore()})

	_, err := s.ScoreAll(context.Background(), score.ScoreAllRequest{PredictionID: 100})
	require.Error(t, err)
}
