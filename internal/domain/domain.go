package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/predikto/predikto/internal/bracket"
	"github.com/predikto/predikto/internal/errors"
)

// DefaultSlotPoints is the fixed value awarded for one correct slot.
const DefaultSlotPoints int64 = 100

// Kind tags the three structural variants a prediction can take.
type Kind string

const (
	KindRanking    Kind = "ranking"
	KindTournament Kind = "tournament"
	KindBingo      Kind = "bingo"
)

// Shape holds the immutable size parameters of one structural variant.
type Shape struct {
	Kind     Kind `json:"kind"`
	Rows     int  `json:"rows,omitempty"`
	Columns  int  `json:"columns,omitempty"`
	Rounds   int  `json:"rounds,omitempty"`
	GridSize int  `json:"grid_size,omitempty"`
}

func (s Shape) Validate() error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithKind(errors.KindInvalidShape),
			errors.WithMessagef(format, args...),
		)
	}

	switch s.Kind {
	case KindRanking:
		if s.Rows < 1 || s.Columns < 1 {
			return invalid("shape: ranking needs at least 1 row and 1 column, got %dx%d", s.Rows, s.Columns)
		}
	case KindTournament:
		if s.Rounds < 1 {
			return invalid("shape: tournament needs at least 1 round, got %d", s.Rounds)
		}
	case KindBingo:
		if s.GridSize < 1 {
			return invalid("shape: bingo grid size must be at least 1, got %d", s.GridSize)
		}
	default:
		return invalid("shape: unknown kind %q", s.Kind)
	}

	return nil
}

// SlotCount returns the number of directly assignable slots: every grid cell
// for ranking and bingo, leaf nodes only for a tournament.
func (s Shape) SlotCount() int {
	switch s.Kind {
	case KindRanking:
		return s.Rows * s.Columns
	case KindTournament:
		return 1 << s.Rounds
	case KindBingo:
		return s.GridSize * s.GridSize
	}
	return 0
}

// ExactTeams reports whether the shape requires exactly SlotCount teams
// rather than at least that many. A bracket cannot seed spare teams.
func (s Shape) ExactTeams() bool {
	return s.Kind == KindTournament
}

func (s Shape) Equal(o Shape) bool {
	return s == o
}

// Team is a participant referenced, never owned, by structures.
type Team struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Score       int64     `json:"score,omitempty"`
	CreatedBy   int64     `json:"created_by"`
	CreateTime  time.Time `json:"create_time"`
}

// RankingColumn is one slot inside a ranking row.
type RankingColumn struct {
	Order  int   `json:"order"`
	TeamID int64 `json:"team_id"`
	Points int64 `json:"points"`
}

type RankingRow struct {
	Order   int             `json:"order"`
	IsWrong bool            `json:"is_wrong"`
	Columns []RankingColumn `json:"columns"`
}

type RankingGrid struct {
	Rows []RankingRow `json:"rows"`
}

// BingoCell is one cell of a square bingo board, scored independently.
type BingoCell struct {
	Row     int   `json:"row"`
	Column  int   `json:"column"`
	TeamID  int64 `json:"team_id"`
	Points  int64 `json:"points"`
	IsWrong bool  `json:"is_wrong"`
}

type BingoBoard struct {
	Size  int         `json:"size"`
	Cells []BingoCell `json:"cells"`
}

// Structure is the tagged union over the three variants. Exactly one of the
// variant fields is set, matching Kind.
type Structure struct {
	Kind    Kind             `json:"kind"`
	Ranking *RankingGrid     `json:"ranking,omitempty"`
	Bracket *bracket.Bracket `json:"bracket,omitempty"`
	Bingo   *BingoBoard      `json:"bingo,omitempty"`
}

// Shape derives the size parameters back from a built structure.
func (s *Structure) Shape() Shape {
	shape := Shape{Kind: s.Kind}
	switch s.Kind {
	case KindRanking:
		shape.Rows = len(s.Ranking.Rows)
		if shape.Rows > 0 {
			shape.Columns = len(s.Ranking.Rows[0].Columns)
		}
	case KindTournament:
		shape.Rounds = s.Bracket.Rounds
	case KindBingo:
		shape.GridSize = s.Bingo.Size
	}
	return shape
}

// Post wraps one populated structure: either a user submission or the single
// official result of a prediction.
type Post struct {
	ID               int64           `json:"id"`
	PredictionID     int64           `json:"prediction_id"`
	OwnerUserID      int64           `json:"owner_user_id"`
	Structure        *Structure      `json:"structure"`
	TotalScore       decimal.Decimal `json:"total_score"`
	IsOfficialResult bool            `json:"is_official_result"`
	IsDraft          bool            `json:"is_draft"`
	CreateTime       time.Time       `json:"create_time"`
	UpdateTime       time.Time       `json:"update_time"`
}

// Template is a named, reusable shape.
type Template struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Shape      Shape     `json:"shape"`
	CreatedBy  int64     `json:"created_by"`
	CreateTime time.Time `json:"create_time"`
}

// FlowState is the lifecycle position of a creation flow.
type FlowState string

const (
	FlowStarted        FlowState = "started"
	FlowTemplateChosen FlowState = "template_chosen"
	FlowTeamsSelected  FlowState = "teams_selected"
	FlowCompleted      FlowState = "completed"
	FlowAbandoned      FlowState = "abandoned"
)

// AbandonReasonExpired marks flows swept after their deadline passed.
const AbandonReasonExpired = "expired"

// Flow is one resumable creation session, addressed by an opaque token.
type Flow struct {
	Token           string    `json:"token"`
	UserID          int64     `json:"user_id"`
	Kind            Kind      `json:"kind"`
	State           FlowState `json:"state"`
	TemplateID      int64     `json:"template_id,omitempty"`
	PredictionID    int64     `json:"prediction_id,omitempty"`
	Shape           Shape     `json:"shape,omitempty"`
	SelectedTeamIDs []int64   `json:"selected_team_ids,omitempty"`
	CreatedTeamIDs  []int64   `json:"created_team_ids,omitempty"`
	AbandonReason   string    `json:"abandon_reason,omitempty"`
	CreateTime      time.Time `json:"create_time"`
	ExpireTime      time.Time `json:"expire_time"`
	CompleteTime    time.Time `json:"complete_time,omitempty"`
	AbandonTime     time.Time `json:"abandon_time,omitempty"`
}

func (f *Flow) Completed() bool { return f.State == FlowCompleted }
func (f *Flow) Abandoned() bool { return f.State == FlowAbandoned }

// Terminal reports whether the flow can take no further steps.
func (f *Flow) Terminal() bool { return f.Completed() || f.Abandoned() }

// Expired reports whether the flow deadline passed without completion.
func (f *Flow) Expired(now time.Time) bool {
	return !f.Terminal() && f.ExpireTime.Before(now)
}

// Leaderboard lists submission totals for one prediction, sorted by score
// in descending order.
type Leaderboard struct {
	PredictionID int64
	Entries      []LeaderboardEntry
}

type LeaderboardEntry struct {
	UserID int64
	Score  float64
}
