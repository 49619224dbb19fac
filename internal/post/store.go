package post

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
)

type Config struct {
	DB  *pgxpool.Pool
	IDs *snowflake.Node
}

// Store persists posts with their structures serialized as JSONB.
type Store struct {
	db  *pgxpool.Pool
	ids *snowflake.Node
}

func NewStore(c Config) *Store {
	return &Store{
		db:  c.DB,
		ids: c.IDs,
	}
}

// CreatePost inserts a finalized post. A zero prediction id means the post
// opens a new prediction; one is generated and stamped back.
func (s *Store) CreatePost(ctx context.Context, p *domain.Post) (*domain.Post, error) {
	p.ID = s.ids.Generate().Int64()
	if p.PredictionID == 0 {
		p.PredictionID = s.ids.Generate().Int64()
	}

	data, err := json.Marshal(p.Structure)
	if err != nil {
		return nil, fmt.Errorf("post: encode structure: %w", err)
	}

	const stmt = `
INSERT INTO posts (post_id, prediction_id, owner_user_id, kind, structure, total_score, is_official, is_draft, create_time, update_time)
VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $8, $9);`

	_, err = s.db.Exec(ctx, stmt,
		p.ID, p.PredictionID, p.OwnerUserID, p.Structure.Kind, data, p.TotalScore, p.IsDraft, p.CreateTime, p.UpdateTime,
	)
	if err != nil {
		return nil, fmt.Errorf("post: insert: %w", err)
	}

	return p, nil
}

func (s *Store) GetPost(ctx context.Context, id int64) (*domain.Post, error) {
	const stmt = `
SELECT post_id, prediction_id, owner_user_id, structure, total_score, is_official, is_draft, create_time, update_time
FROM posts
WHERE post_id = $1;`

	p, err := scanPost(s.db.QueryRow(ctx, stmt, id))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("post: %d not found", id),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("post: get %d: %w", id, err)
	}

	return p, nil
}

// FindOfficialResult returns the single official post of a prediction, or
// nil when none has been published yet.
func (s *Store) FindOfficialResult(ctx context.Context, predictionID int64) (*domain.Post, error) {
	const stmt = `
SELECT post_id, prediction_id, owner_user_id, structure, total_score, is_official, is_draft, create_time, update_time
FROM posts
WHERE prediction_id = $1 AND is_official;`

	p, err := scanPost(s.db.QueryRow(ctx, stmt, predictionID))
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("post: find official for prediction %d: %w", predictionID, err)
	}

	return p, nil
}

// ListSubmissions returns every non-official, non-draft post of a prediction.
func (s *Store) ListSubmissions(ctx context.Context, predictionID int64) ([]*domain.Post, error) {
	const stmt = `
SELECT post_id, prediction_id, owner_user_id, structure, total_score, is_official, is_draft, create_time, update_time
FROM posts
WHERE prediction_id = $1 AND NOT is_official AND NOT is_draft
ORDER BY create_time;`

	rows, err := s.db.Query(ctx, stmt, predictionID)
	if err != nil {
		return nil, fmt.Errorf("post: list submissions for prediction %d: %w", predictionID, err)
	}

	posts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Post, error) {
		return scanPost(r)
	})
	if err != nil {
		return nil, fmt.Errorf("post: list submissions for prediction %d: %w", predictionID, err)
	}

	return posts, nil
}

// MarkOfficial flags a post as the official result. The posts table carries a
// partial unique index on (prediction_id) WHERE is_official, so a concurrent
// publisher loses here rather than producing two official results.
func (s *Store) MarkOfficial(ctx context.Context, id int64) error {
	const stmt = `UPDATE posts SET is_official = TRUE, update_time = NOW() WHERE post_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, id)
	if err != nil {
		return fmt.Errorf("post: mark official %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("post: %d not found", id),
		)
	}

	return nil
}

// ReplaceScore overwrites the total and the marked-up structure in one
// statement; a failed scoring run never leaves a half-updated total behind.
func (s *Store) ReplaceScore(ctx context.Context, id int64, total decimal.Decimal, st *domain.Structure, updateTime time.Time) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("post: encode structure: %w", err)
	}

	const stmt = `UPDATE posts SET total_score = $2, structure = $3, update_time = $4 WHERE post_id = $1;`

	tag, err := s.db.Exec(ctx, stmt, id, total, data, updateTime)
	if err != nil {
		return fmt.Errorf("post: replace score %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("post: %d not found", id),
		)
	}

	return nil
}

type row interface {
	Scan(dest ...any) error
}

func scanPost(r row) (*domain.Post, error) {
	var (
		p    domain.Post
		data []byte
	)

	err := r.Scan(&p.ID, &p.PredictionID, &p.OwnerUserID, &data, &p.TotalScore, &p.IsOfficialResult, &p.IsDraft, &p.CreateTime, &p.UpdateTime)
	if err != nil {
		return nil, err
	}

	p.Structure = &domain.Structure{}
	if err := json.Unmarshal(data, p.Structure); err != nil {
		return nil, fmt.Errorf("decode structure: %w", err)
	}

	return &p, nil
}
