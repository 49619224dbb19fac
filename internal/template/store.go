package template

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
)

type Config struct {
	DB  *pgxpool.Pool
	IDs *snowflake.Node
	Now func() time.Time
}

// Store persists named shape templates.
type Store struct {
	db  *pgxpool.Pool
	ids *snowflake.Node
	now func() time.Time
}

func NewStore(c Config) *Store {
	s := &Store{
		db:  c.DB,
		ids: c.IDs,
		now: c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateTemplateRequest struct {
	Name      string
	Shape     domain.Shape
	CreatedBy int64
}

func (s *Store) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*domain.Template, error) {
	if err := req.Shape.Validate(); err != nil {
		return nil, err
	}

	tpl := &domain.Template{
		ID:         s.ids.Generate().Int64(),
		Name:       req.Name,
		Shape:      req.Shape,
		CreatedBy:  req.CreatedBy,
		CreateTime: s.now(),
	}

	data, err := json.Marshal(tpl.Shape)
	if err != nil {
		return nil, fmt.Errorf("template: encode shape: %w", err)
	}

	const stmt = `
INSERT INTO templates (template_id, name, shape, created_by, create_time)
VALUES ($1, $2, $3, $4, $5);`

	_, err = s.db.Exec(ctx, stmt, tpl.ID, tpl.Name, data, tpl.CreatedBy, tpl.CreateTime)
	if err != nil {
		return nil, fmt.Errorf("template: insert: %w", err)
	}

	return tpl, nil
}

func (s *Store) GetTemplate(ctx context.Context, id int64) (*domain.Template, error) {
	const stmt = `
SELECT template_id, name, shape, created_by, create_time
FROM templates
WHERE template_id = $1;`

	var (
		tpl  domain.Template
		data []byte
	)
	err := s.db.QueryRow(ctx, stmt, id).Scan(&tpl.ID, &tpl.Name, &data, &tpl.CreatedBy, &tpl.CreateTime)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("template: %d not found", id),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("template: get %d: %w", id, err)
	}

	if err := json.Unmarshal(data, &tpl.Shape); err != nil {
		return nil, fmt.Errorf("template: decode shape: %w", err)
	}

	return &tpl, nil
}

func (s *Store) ListTemplates(ctx context.Context, kind domain.Kind) ([]*domain.Template, error) {
	const stmt = `
SELECT template_id, name, shape, created_by, create_time
FROM templates
ORDER BY create_time;`

	rows, err := s.db.Query(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}

	templates, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (*domain.Template, error) {
		var (
			tpl  domain.Template
			data []byte
		)
		if err := r.Scan(&tpl.ID, &tpl.Name, &data, &tpl.CreatedBy, &tpl.CreateTime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &tpl.Shape); err != nil {
			return nil, err
		}
		return &tpl, nil
	})
	if err != nil {
		return nil, fmt.Errorf("template: list: %w", err)
	}

	if kind == "" {
		return templates, nil
	}

	filtered := templates[:0]
	for _, tpl := range templates {
		if tpl.Shape.Kind == kind {
			filtered = append(filtered, tpl)
		}
	}
	return filtered, nil
}
