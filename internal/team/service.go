package team

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
)

type Config struct {
	DB  *pgxpool.Pool
	IDs *snowflake.Node
	Now func() time.Time
}

type Service struct {
	db  *pgxpool.Pool
	ids *snowflake.Node
	now func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		db:  c.DB,
		ids: c.IDs,
		now: c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateTeamRequest struct {
	Name        string
	Description string
	PhotoURL    string
	CreatedBy   int64
}

func (s *Service) CreateTeam(ctx context.Context, req CreateTeamRequest) (*domain.Team, error) {
	if req.Name == "" {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("team: name is required"),
		)
	}

	t := &domain.Team{
		ID:          s.ids.Generate().Int64(),
		Name:        req.Name,
		Description: req.Description,
		PhotoURL:    req.PhotoURL,
		CreatedBy:   req.CreatedBy,
		CreateTime:  s.now(),
	}

	const stmt = `
INSERT INTO teams (team_id, name, description, photo_url, created_by, create_time)
VALUES ($1, $2, $3, $4, $5, $6);`

	_, err := s.db.Exec(ctx, stmt, t.ID, t.Name, t.Description, t.PhotoURL, t.CreatedBy, t.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("team: insert: %w", err)
	}

	return t, nil
}

func (s *Service) GetTeam(ctx context.Context, id int64) (*domain.Team, error) {
	const stmt = `
SELECT team_id, name, description, photo_url, created_by, create_time
FROM teams
WHERE team_id = $1;`

	var t domain.Team
	err := s.db.QueryRow(ctx, stmt, id).Scan(&t.ID, &t.Name, &t.Description, &t.PhotoURL, &t.CreatedBy, &t.CreateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("team: %d not found", id),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("team: get %d: %w", id, err)
	}

	return &t, nil
}

type SearchTeamsRequest struct {
	Query string
	Limit int
}

// SearchTeams fuzzy-matches the query against all team names. The roster is
// small enough to rank in memory.
func (s *Service) SearchTeams(ctx context.Context, req SearchTeamsRequest) ([]*domain.Team, error) {
	const stmt = `
SELECT team_id, name, description, photo_url, created_by, create_time
FROM teams
ORDER BY name;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("team: search: %w", err)
	}

	teams, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Team, error) {
		var t domain.Team
		if err := r.Scan(&t.ID, &t.Name, &t.Description, &t.PhotoURL, &t.CreatedBy, &t.CreateTime); err != nil {
			return nil, err
		}
		return &t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("team: search: %w", err)
	}

	if req.Query == "" {
		return truncate(teams, req.Limit), nil
	}

	names := make([]string, len(teams))
	for i, t := range teams {
		names[i] = t.Name
	}

	ranks := fuzzy.RankFindNormalizedFold(req.Query, names)
	sort.Sort(ranks)

	matched := make([]*domain.Team, 0, len(ranks))
	for _, r := range ranks {
		matched = append(matched, teams[r.OriginalIndex])
	}

	return truncate(matched, req.Limit), nil
}

func truncate(teams []*domain.Team, limit int) []*domain.Team {
	if limit > 0 && len(teams) > limit {
		return teams[:limit]
	}
	return teams
}
