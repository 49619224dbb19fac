package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predikto/predikto/internal/api"
	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/event"
	"github.com/predikto/predikto/internal/flow"
	"github.com/predikto/predikto/internal/leaderboard"
	"github.com/predikto/predikto/internal/score"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAPI_FlowLifecycle(t *testing.T) {
	h := newHarness(t)

	token := h.startFlow(t, 7, domain.KindRanking)

	res := h.do(t, http.MethodPost, "/v1/flows/"+token+"/template", map[string]any{
		"template_id": 1,
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/flows/"+token+"/teams", map[string]any{
		"team_ids": []int64{1, 2, 3},
	})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	res = h.do(t, http.MethodPost, "/v1/flows/"+token+"/post", map[string]any{
		"assignments": []map[string]any{
			{"slot": map[string]int{"row": 0, "column": 0}, "team_id": 1},
			{"slot": map[string]int{"row": 1, "column": 0}, "team_id": 2},
			{"slot": map[string]int{"row": 2, "column": 0}, "team_id": 3},
		},
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var created struct {
		Flow domain.Flow `json:"flow"`
		Post domain.Post `json:"post"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &created))
	assert.Equal(t, domain.FlowCompleted, created.Flow.State)
	assert.NotZero(t, created.Post.ID)
	assert.NotZero(t, created.Post.PredictionID)

	res = h.do(t, http.MethodGet, "/v1/flows/"+token, nil)
	require.Equal(t, http.StatusOK, res.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	h := newHarness(t)

	res := h.do(t, http.MethodGet, "/v1/flows/no-such-token", nil)
	assert.Equal(t, http.StatusNotFound, res.Code)

	res = h.do(t, http.MethodPost, "/v1/flows", map[string]any{
		"user_id": 7,
		"kind":    "sudoku",
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)

	token := h.startFlow(t, 7, domain.KindRanking)

	// Selecting teams before choosing a template is out of order.
	res = h.do(t, http.MethodPost, "/v1/flows/"+token+"/teams", map[string]any{
		"team_ids": []int64{1, 2, 3},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, res.Code)
}

func TestAPI_PublishOfficialAndLeaderboard(t *testing.T) {
	h := newHarness(t)

	official := h.seedPost(t, 1, []int64{1, 2, 3})
	sub := h.seedPost(t, 42, []int64{1, 3, 2})
	sub.PredictionID = official.PredictionID

	path := fmt.Sprintf("/v1/predictions/%d/official", official.PredictionID)
	res := h.do(t, http.MethodPost, path, map[string]any{"post_id": official.ID})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var published struct {
		Scored int `json:"scored"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &published))
	assert.Equal(t, 1, published.Scored)

	// Drain the bus so the leaderboard handler has run.
	h.eb.Stop()

	res = h.do(t, http.MethodGet, fmt.Sprintf("/v1/predictions/%d/leaderboard", official.PredictionID), nil)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var lb struct {
		PredictionID int64 `json:"prediction_id"`
		Entries      []struct {
			UserID int64  `json:"user_id"`
			Score  string `json:"score"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &lb))
	require.Len(t, lb.Entries, 1)
	assert.Equal(t, int64(42), lb.Entries[0].UserID)
	assert.Equal(t, "100", lb.Entries[0].Score)
}

type harness struct {
	engine    *gin.Engine
	eb        *event.Bus
	posts     *fakePostStore
	templates *fakeTemplateStore
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		engine: gin.New(),
		eb:     event.NewBus(),
		posts:  newFakePostStore(),
		templates: &fakeTemplateStore{templates: map[int64]*domain.Template{
			1: {ID: 1, Name: "top 3", Shape: domain.Shape{Kind: domain.KindRanking, Rows: 3, Columns: 1}},
		}},
	}

	fs := flow.NewService(flow.Config{
		Redis:     rdb,
		Prefix:    "test",
		Templates: h.templates,
		Posts:     h.posts,
	})

	ss := score.NewService(score.Config{
		EventBus: h.eb,
		Posts:    h.posts,
	})

	ls := leaderboard.NewService(leaderboard.Config{
		EventBus: h.eb,
		Redis:    rdb,
		Prefix:   "test",
	})

	api.New(api.Config{
		Engine:       h.engine,
		EventBus:     h.eb,
		Flow:         fs,
		Score:        ss,
		Leaderboard:  ls,
		Redis:        rdb,
		PubsubPrefix: "test",
	})

	t.Cleanup(h.eb.Stop)
	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	res := httptest.NewRecorder()
	h.engine.ServeHTTP(res, req)
	return res
}

func (h *harness) startFlow(t *testing.T, userID int64, kind domain.Kind) string {
	t.Helper()

	res := h.do(t, http.MethodPost, "/v1/flows", map[string]any{
		"user_id": userID,
		"kind":    kind,
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	var out struct {
		Flow domain.Flow `json:"flow"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &out))
	require.NotEmpty(t, out.Flow.Token)
	return out.Flow.Token
}

// seedPost stores a 3x1 ranking post directly, bypassing the flow.
func (h *harness) seedPost(t *testing.T, owner int64, order []int64) *domain.Post {
	t.Helper()

	st := &domain.Structure{
		Kind:    domain.KindRanking,
		Ranking: &domain.RankingGrid{},
	}
	for i, id := range order {
		st.Ranking.Rows = append(st.Ranking.Rows, domain.RankingRow{
			Order:   i,
			Columns: []domain.RankingColumn{{TeamID: id, Points: domain.DefaultSlotPoints}},
		})
	}

	p, err := h.posts.CreatePost(context.Background(), &domain.Post{
		OwnerUserID: owner,
		Structure:   st,
		CreateTime:  time.Now(),
		UpdateTime:  time.Now(),
	})
	require.NoError(t, err)
	return p
}

type fakeTemplateStore struct {
	templates map[int64]*domain.Template
}

func (f *fakeTemplateStore) GetTemplate(_ context.Context, id int64) (*domain.Template, error) {
	tpl, ok := f.templates[id]
	if !ok {
		return nil, fmt.Errorf("template %d not found", id)
	}
	return tpl, nil
}

type fakePostStore struct {
	mu     sync.Mutex
	nextID int64
	posts  map[int64]*domain.Post
}

func newFakePostStore() *fakePostStore {
	return &fakePostStore{posts: make(map[int64]*domain.Post)}
}

func (f *fakePostStore) CreatePost(_ context.Context, p *domain.Post) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	p.ID = f.nextID
	if p.PredictionID == 0 {
		p.PredictionID = 1000 + f.nextID
	}
	f.posts[p.ID] = p
	return p, nil
}

func (f *fakePostStore) GetPost(_ context.Context, id int64) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.posts[id]
	if !ok {
		return nil, fmt.Errorf("post %d not found", id)
	}
	return p, nil
}

func (f *fakePostStore) FindOfficialResult(_ context.Context, predictionID int64) (*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range f.posts {
		if p.PredictionID == predictionID && p.IsOfficialResult {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakePostStore) ListSubmissions(_ context.Context, predictionID int64) ([]*domain.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*domain.Post
	for _, p := range f.posts {
		if p.PredictionID == predictionID && !p.IsOfficialResult && !p.IsDraft {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakePostStore) MarkOfficial(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.posts[id]
	if !ok {
		return fmt.Errorf("post %d not found", id)
	}
	p.IsOfficialResult = true
	return nil
}

func (f *fakePostStore) ReplaceScore(_ context.Context, id int64, total decimal.Decimal, st *domain.Structure, updateTime time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	p, ok := f.posts[id]
	if !ok {
		return fmt.Errorf("post %d not found", id)
	}
	p.TotalScore = total
	p.Structure = st
	p.UpdateTime = updateTime
	return nil
}
