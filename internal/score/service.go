package score

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
	"github.com/predikto/predikto/internal/event"
	"github.com/predikto/predikto/internal/metrics"
)

// maxConcurrentScorings bounds the fan-out when scoring all submissions of a
// prediction. Submissions share nothing but read access to the official
// structure, so they score in parallel.
const maxConcurrentScorings = 16

// PostStore is the durable-store collaborator the scoring service relies on.
// Implemented by the post package; faked in tests.
type PostStore interface {
	GetPost(ctx context.Context, id int64) (*domain.Post, error)
	FindOfficialResult(ctx context.Context, predictionID int64) (*domain.Post, error)
	ListSubmissions(ctx context.Context, predictionID int64) ([]*domain.Post, error)
	MarkOfficial(ctx context.Context, id int64) error
	ReplaceScore(ctx context.Context, id int64, total decimal.Decimal, st *domain.Structure, updateTime time.Time) error
}

type Config struct {
	EventBus *event.Bus
	Posts    PostStore
	Now      func() time.Time
}

type Service struct {
	eb    *event.Bus
	posts PostStore
	now   func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		eb:    c.EventBus,
		posts: c.Posts,
		now:   c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type PublishOfficialRequest struct {
	PredictionID int64
	PostID       int64
}

type PublishOfficialResponse struct {
	Official *domain.Post
	Scored   int
}

// PublishOfficial marks a post as the official result of its prediction and
// scores every submission against it. At most one official result may exist
// per prediction.
func (s *Service) PublishOfficial(ctx context.Context, req PublishOfficialRequest) (*PublishOfficialResponse, error) {
	existing, err := s.posts.FindOfficialResult(ctx, req.PredictionID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.ID != req.PostID {
		return nil, errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("score: prediction %d already has official result post %d", req.PredictionID, existing.ID),
		)
	}

	official, err := s.posts.GetPost(ctx, req.PostID)
	if err != nil {
		return nil, err
	}
	if official.PredictionID != req.PredictionID {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("score: post %d does not belong to prediction %d", req.PostID, req.PredictionID),
		)
	}

	if err := s.posts.MarkOfficial(ctx, official.ID); err != nil {
		return nil, err
	}
	official.IsOfficialResult = true

	s.eb.Publish(ctx, domain.EventOfficialPublished{Official: *official})

	n, err := s.ScoreAll(ctx, ScoreAllRequest{PredictionID: req.PredictionID})
	if err != nil {
		return nil, err
	}

	return &PublishOfficialResponse{Official: official, Scored: n}, nil
}

type ScoreAllRequest struct {
	PredictionID int64
}

// ScoreAll re-scores every submission of a prediction against its official
// result. Safe to re-run; totals are replaced in full.
func (s *Service) ScoreAll(ctx context.Context, req ScoreAllRequest) (int, error) {
	official, err := s.posts.FindOfficialResult(ctx, req.PredictionID)
	if err != nil {
		return 0, err
	}
	if official == nil {
		return 0, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("score: prediction %d has no official result", req.PredictionID),
		)
	}

	subs, err := s.posts.ListSubmissions(ctx, req.PredictionID)
	if err != nil {
		return 0, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(maxConcurrentScorings)

	for _, sub := range subs {
		sub := sub
		eg.Go(func() error {
			return s.scoreOne(ctx, official, sub)
		})
	}

	if err := eg.Wait(); err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "score: scored all submissions",
		"prediction_id", req.PredictionID,
		"submissions", len(subs),
	)

	return len(subs), nil
}

func (s *Service) scoreOne(ctx context.Context, official, sub *domain.Post) error {
	total, err := Compare(official.Structure, sub.Structure)
	if err != nil {
		return err
	}

	sub.TotalScore = decimal.NewFromInt(total)
	sub.UpdateTime = s.now()

	if err := s.posts.ReplaceScore(ctx, sub.ID, sub.TotalScore, sub.Structure, sub.UpdateTime); err != nil {
		return err
	}

	metrics.PostsScored.Inc()

	s.eb.Publish(ctx, domain.EventPostScored{Post: *sub})
	return nil
}
