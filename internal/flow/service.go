package flow

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
	"github.com/predikto/predikto/internal/metrics"
	"github.com/predikto/predikto/internal/structure"
)

const (
	// Lifetime a flow has to reach completion before the sweeper may claim it.
	Lifetime = 2 * time.Hour

	// retention keeps terminal flows readable for a while before redis drops them.
	retention = 22 * time.Hour

	// txRetries bounds optimistic retries when concurrent steps race on one token.
	txRetries = 5
)

// TemplateStore is the durable-store collaborator resolving shape templates.
type TemplateStore interface {
	GetTemplate(ctx context.Context, id int64) (*domain.Template, error)
}

// PostCreator finalizes the populated structure into a stored post.
type PostCreator interface {
	CreatePost(ctx context.Context, p *domain.Post) (*domain.Post, error)
}

type Config struct {
	Redis     redis.UniversalClient
	Prefix    string
	Templates TemplateStore
	Posts     PostCreator
	Now       func() time.Time
}

// Service drives the multi-step creation saga. Each flow lives in redis under
// its token; steps use WATCH so concurrent writes to one token never
// interleave into an invalid transition.
type Service struct {
	redis     redis.UniversalClient
	prefix    string
	templates TemplateStore
	posts     PostCreator
	now       func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		redis:     c.Redis,
		prefix:    c.Prefix,
		templates: c.Templates,
		posts:     c.Posts,
		now:       c.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type StartRequest struct {
	UserID       int64
	Kind         domain.Kind
	PredictionID int64
}

// Start opens a new flow and returns it with a fresh opaque token.
func (s *Service) Start(ctx context.Context, req StartRequest) (*domain.Flow, error) {
	switch req.Kind {
	case domain.KindRanking, domain.KindTournament, domain.KindBingo:
	default:
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("flow: unknown prediction type %q", req.Kind),
		)
	}

	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("flow: generate token: %w", err)
	}

	now := s.now()
	f := &domain.Flow{
		Token:        token.String(),
		UserID:       req.UserID,
		Kind:         req.Kind,
		PredictionID: req.PredictionID,
		State:        domain.FlowStarted,
		CreateTime:   now,
		ExpireTime:   now.Add(Lifetime),
	}

	if err := s.save(ctx, s.redis, f); err != nil {
		return nil, err
	}

	metrics.FlowsStarted.Inc()
	return f, nil
}

// Get loads a flow by token.
func (s *Service) Get(ctx context.Context, token string) (*domain.Flow, error) {
	return s.load(ctx, s.redis, token)
}

type ChooseTemplateRequest struct {
	Token      string
	TemplateID int64
}

// ChooseTemplate binds a shape template to the flow. Valid before teams are
// selected; re-choosing a template is allowed up to that point.
func (s *Service) ChooseTemplate(ctx context.Context, req ChooseTemplateRequest) (*domain.Flow, error) {
	tpl, err := s.templates.GetTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	return s.step(ctx, req.Token, func(f *domain.Flow) error {
		if f.State != domain.FlowStarted && f.State != domain.FlowTemplateChosen {
			return stepOutOfOrder(f, "choose template")
		}

		if tpl.Shape.Kind != f.Kind {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("flow: template %d is %s, flow is %s", tpl.ID, tpl.Shape.Kind, f.Kind),
			)
		}

		f.TemplateID = tpl.ID
		f.Shape = tpl.Shape
		f.State = domain.FlowTemplateChosen
		return nil
	})
}

type SelectTeamsRequest struct {
	Token   string
	TeamIDs []int64

	// CreatedTeamIDs are teams created inside this flow, tracked separately so
	// an abandonment can roll them back.
	CreatedTeamIDs []int64
}

// SelectTeams records the ordered team set for the flow. The count must
// satisfy the template's shape: exactly the leaf-slot count for a tournament,
// at least the slot count otherwise.
func (s *Service) SelectTeams(ctx context.Context, req SelectTeamsRequest) (*domain.Flow, error) {
	return s.step(ctx, req.Token, func(f *domain.Flow) error {
		if f.State != domain.FlowTemplateChosen && f.State != domain.FlowTeamsSelected {
			return stepOutOfOrder(f, "select teams")
		}

		seen := make(map[int64]bool, len(req.TeamIDs))
		for _, id := range req.TeamIDs {
			if seen[id] {
				return errors.New(errors.CodeInvalidArgument,
					errors.WithMessagef("flow: team %d selected twice", id),
				)
			}
			seen[id] = true
		}

		want := f.Shape.SlotCount()
		if len(req.TeamIDs) < want || (f.Shape.ExactTeams() && len(req.TeamIDs) != want) {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithKind(errors.KindInsufficientTeams),
				errors.WithMessagef("flow: shape %s needs %d teams, got %d", f.Shape.Kind, want, len(req.TeamIDs)),
			)
		}

		f.SelectedTeamIDs = req.TeamIDs
		f.CreatedTeamIDs = req.CreatedTeamIDs
		f.State = domain.FlowTeamsSelected
		return nil
	})
}

type CreatePostRequest struct {
	Token     string
	Structure *domain.Structure

	// SaveAsDraft finalizes the flow even if not every slot holds a team.
	SaveAsDraft bool
}

type CreatePostResponse struct {
	Flow *domain.Flow
	Post *domain.Post
}

// CreatePost finalizes the flow into a stored post. The structure must match
// the template shape, reference only selected teams and, unless saved as a
// draft, be completely populated.
func (s *Service) CreatePost(ctx context.Context, req CreatePostRequest) (*CreatePostResponse, error) {
	var post *domain.Post

	f, err := s.step(ctx, req.Token, func(f *domain.Flow) error {
		if f.State != domain.FlowTeamsSelected {
			return stepOutOfOrder(f, "create post")
		}

		if err := s.validateStructure(f, req.Structure); err != nil {
			return err
		}

		if !req.SaveAsDraft && !structure.IsComplete(req.Structure) {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithKind(errors.KindStructureIncomplete),
				errors.WithMessagef("flow: structure has empty slots, complete it or save as draft"),
			)
		}

		// Concurrent steps on one token are a caller error; the WATCH guard
		// keeps the flow record consistent but the post insert itself is not
		// rolled back if the transaction loses the race.
		now := s.now()
		p, err := s.posts.CreatePost(ctx, &domain.Post{
			PredictionID: f.PredictionID,
			OwnerUserID:  f.UserID,
			Structure:    req.Structure,
			IsDraft:      req.SaveAsDraft,
			CreateTime:   now,
			UpdateTime:   now,
		})
		if err != nil {
			return err
		}

		post = p
		f.PredictionID = p.PredictionID
		f.State = domain.FlowCompleted
		f.CompleteTime = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.FlowsCompleted.Inc()
	return &CreatePostResponse{Flow: f, Post: post}, nil
}

func (s *Service) validateStructure(f *domain.Flow, st *domain.Structure) error {
	if st == nil {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef("flow: structure is required"))
	}

	if !st.Shape().Equal(f.Shape) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithKind(errors.KindShapeMismatch),
			errors.WithMessagef("flow: structure %+v does not match template shape %+v", st.Shape(), f.Shape),
		)
	}

	selected := make(map[int64]bool, len(f.SelectedTeamIDs))
	for _, id := range f.SelectedTeamIDs {
		selected[id] = true
	}

	for _, id := range assignedTeams(st) {
		if !selected[id] {
			return errors.New(errors.CodeInvalidArgument,
				errors.WithMessagef("flow: team %d was not selected for this flow", id),
			)
		}
	}

	return nil
}

// assignedTeams collects the teams placed in directly assignable slots.
func assignedTeams(st *domain.Structure) []int64 {
	var ids []int64
	switch st.Kind {
	case domain.KindRanking:
		for _, row := range st.Ranking.Rows {
			for _, col := range row.Columns {
				if col.TeamID != 0 {
					ids = append(ids, col.TeamID)
				}
			}
		}
	case domain.KindTournament:
		for _, leaf := range st.Bracket.Leaves() {
			if leaf.TeamID != 0 {
				ids = append(ids, leaf.TeamID)
			}
		}
	case domain.KindBingo:
		for _, cell := range st.Bingo.Cells {
			if cell.TeamID != 0 {
				ids = append(ids, cell.TeamID)
			}
		}
	}
	return ids
}

type AbandonRequest struct {
	Token  string
	Reason string
}

// Abandon terminates a non-terminal flow. Re-abandoning an abandoned flow is
// a no-op, abandoning a completed one is an error.
func (s *Service) Abandon(ctx context.Context, req AbandonRequest) (*domain.Flow, error) {
	var noop bool

	f, err := s.update(ctx, req.Token, func(f *domain.Flow) error {
		if f.Abandoned() {
			noop = true
			return nil
		}
		if f.Completed() {
			return alreadyTerminal(f)
		}

		f.State = domain.FlowAbandoned
		f.AbandonReason = req.Reason
		f.AbandonTime = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}

	if !noop {
		metrics.FlowsAbandoned.Inc()
	}
	return f, nil
}

// SweepExpired marks every overdue, non-terminal flow as abandoned with
// reason "expired" and returns how many it claimed. Concurrent sweepers are
// safe: the WATCH-guarded transition means each flow is claimed exactly once.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	tokens, err := s.redis.ZRangeByScore(ctx, s.expiryKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("flow: sweep: list overdue: %w", err)
	}

	var swept int
	for _, token := range tokens {
		claimed, err := s.sweepOne(ctx, token, now)
		if err != nil {
			slog.ErrorContext(ctx, "flow: sweep failed for token", "token", token, "error", err)
			continue
		}
		if claimed {
			swept++
		}
	}

	if swept > 0 {
		metrics.FlowsSwept.Add(float64(swept))
		slog.InfoContext(ctx, "flow: swept expired flows", "count", swept)
	}

	return swept, nil
}

func (s *Service) sweepOne(ctx context.Context, token string, now time.Time) (bool, error) {
	var claimed bool

	_, err := s.update(ctx, token, func(f *domain.Flow) error {
		if f.Terminal() || !f.Expired(now) {
			return nil
		}

		f.State = domain.FlowAbandoned
		f.AbandonReason = domain.AbandonReasonExpired
		f.AbandonTime = now
		claimed = true
		return nil
	})
	if err != nil {
		// A concurrent sweeper may have claimed it and let retention expire it.
		if errors.IsKind(err, errors.KindFlowNotFound) {
			return false, nil
		}
		return false, err
	}

	if claimed {
		metrics.FlowsAbandoned.Inc()
	}
	return claimed, nil
}

// step is the common transition wrapper for forward steps: it rejects
// terminal and expired flows before applying the mutation.
func (s *Service) step(ctx context.Context, token string, mutate func(*domain.Flow) error) (*domain.Flow, error) {
	return s.update(ctx, token, func(f *domain.Flow) error {
		if f.Terminal() {
			return alreadyTerminal(f)
		}
		if f.Expired(s.now()) {
			return errors.New(errors.CodeFailedPrecondition,
				errors.WithKind(errors.KindFlowExpired),
				errors.WithMessagef("flow: %s expired at %s", f.Token, f.ExpireTime.Format(time.RFC3339)),
			)
		}
		return mutate(f)
	})
}

// update runs a WATCH-guarded read-modify-write on one flow token, retrying
// when a concurrent step wins the race.
func (s *Service) update(ctx context.Context, token string, mutate func(*domain.Flow) error) (*domain.Flow, error) {
	var out *domain.Flow

	txn := func(tx *redis.Tx) error {
		f, err := s.load(ctx, tx, token)
		if err != nil {
			return err
		}

		if err := mutate(f); err != nil {
			return err
		}

		out = f
		return s.save(ctx, tx, f)
	}

	for i := 0; i < txRetries; i++ {
		err := s.redis.Watch(ctx, txn, s.flowKey(token))
		if stderrors.Is(err, redis.TxFailedErr) {
			continue
		}
		return out, err
	}

	return nil, errors.New(errors.CodeInternal,
		errors.WithMessagef("flow: too many concurrent updates on token %s", token),
	)
}

func (s *Service) load(ctx context.Context, r redis.Cmdable, token string) (*domain.Flow, error) {
	data, err := r.Get(ctx, s.flowKey(token)).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithKind(errors.KindFlowNotFound),
			errors.WithMessagef("flow: token %s not found", token),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("flow: load %s: %w", token, err)
	}

	var f domain.Flow
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("flow: decode %s: %w", token, err)
	}

	return &f, nil
}

func (s *Service) save(ctx context.Context, r redis.Cmdable, f *domain.Flow) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("flow: encode %s: %w", f.Token, err)
	}

	_, err = r.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.flowKey(f.Token), data, Lifetime+retention)
		if f.Terminal() {
			p.ZRem(ctx, s.expiryKey(), f.Token)
		} else {
			p.ZAdd(ctx, s.expiryKey(), redis.Z{Score: float64(f.ExpireTime.Unix()), Member: f.Token})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("flow: save %s: %w", f.Token, err)
	}

	return nil
}

func (s *Service) flowKey(token string) string {
	return fmt.Sprintf("%s:flow:%s", s.prefix, token)
}

func (s *Service) expiryKey() string {
	return fmt.Sprintf("%s:flow:expiry", s.prefix)
}

func stepOutOfOrder(f *domain.Flow, op string) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithMessagef("flow: cannot %s in state %s", op, f.State),
	)
}

func alreadyTerminal(f *domain.Flow) error {
	return errors.New(errors.CodeFailedPrecondition,
		errors.WithKind(errors.KindFlowAlreadyTerminal),
		errors.WithMessagef("flow: %s is already %s", f.Token, f.State),
	)
}
