package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/predikto/predikto/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	Leaderboard struct {
		PredictionID int64              `json:"prediction_id"`
		Entries      []LeaderboardEntry `json:"entries"`
	}

	LeaderboardEntry struct {
		UserID int64  `json:"user_id"`
		Score  string `json:"score"`
	}
)

func leaderboardJSON(l *domain.Leaderboard) Leaderboard {
	out := Leaderboard{
		PredictionID: l.PredictionID,
		Entries:      make([]LeaderboardEntry, 0, len(l.Entries)),
	}

	for _, entry := range l.Entries {
		out.Entries = append(out.Entries, LeaderboardEntry{
			UserID: entry.UserID,
			Score:  strconv.FormatFloat(entry.Score, 'f', -1, 64),
		})
	}

	return out
}

// PublishLeaderboardUpdated fans the fresh leaderboard out to every ranked
// user's notification channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	data := leaderboardJSON(&e.Leaderboard)

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range data.Entries {
		entry := entry
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), data)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, userID int64, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, fmt.Sprintf("%s:user:%d", a.prefix, userID), b).Err()
}
