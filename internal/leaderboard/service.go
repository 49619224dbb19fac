package leaderboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
	"github.com/predikto/predikto/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

// Service keeps one sorted set per prediction with every submitter's total.
// It reacts to post.scored events and throttles leaderboard.updated fanout.
type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNamePostScored, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventPostScored))
	})

	return s
}

type GetLeaderboardRequest struct {
	PredictionID int64
}

// GetLeaderboard returns every submitter and their total for a prediction,
// best first.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	res, err := s.redis.ZRevRangeWithScores(ctx, s.leaderboardKey(req.PredictionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	if len(res) == 0 {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("leaderboard not found: prediction=%d", req.PredictionID))
	}

	entries := make([]domain.LeaderboardEntry, 0, len(res))
	for _, z := range res {
		userID, err := strconv.ParseInt(z.Member.(string), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse leaderboard member %q: %w", z.Member, err)
		}
		entries = append(entries, domain.LeaderboardEntry{
			UserID: userID,
			Score:  z.Score,
		})
	}

	return &domain.Leaderboard{
		PredictionID: req.PredictionID,
		Entries:      entries,
	}, nil
}

// UpdateLeaderboard overwrites the owner's total for the scored post.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventPostScored) error {
	p := e.Post

	if err := s.redis.ZAdd(ctx, s.leaderboardKey(p.PredictionID), redis.Z{
		Score:  p.TotalScore.InexactFloat64(),
		Member: strconv.FormatInt(p.OwnerUserID, 10),
	}).Err(); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, p)
}

// schedulePublishLeaderboard publishes leaderboard changes after a short
// interval instead of immediately. Scoring a prediction touches every
// submission in a burst; coalescing keeps the event volume sane.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, p domain.Post) error {
	ok, err := s.redis.SetNX(ctx, s.publishTimeKey(p.PredictionID), p.UpdateTime.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if !ok {
		return nil
	}

	return s.publishLeaderboard(ctx, p)
}

func (s *Service) publishLeaderboard(ctx context.Context, p domain.Post) error {
	l, err := s.GetLeaderboard(ctx, GetLeaderboardRequest{
		PredictionID: p.PredictionID,
	})
	if err != nil {
		return fmt.Errorf("get leaderboard failed: prediction=%d: %w", p.PredictionID, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.publishTimeKey(p.PredictionID), p.UpdateTime.UnixMilli(), publishInterval).Err()
}

func (s *Service) leaderboardKey(predictionID int64) string {
	return fmt.Sprintf("%s:%d:leaderboard", s.prefix, predictionID)
}

func (s *Service) publishTimeKey(predictionID int64) string {
	return fmt.Sprintf("%s:%d:publish-time", s.prefix, predictionID)
}
