package structure

import (
	"github.com/predikto/predikto/internal/bracket"
	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
)

// Build allocates an empty structure for the given shape: every slot carries
// its point value and no team. Pure allocation, no side effects.
func Build(shape domain.Shape) (*domain.Structure, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}

	st := &domain.Structure{Kind: shape.Kind}

	switch shape.Kind {
	case domain.KindRanking:
		grid := &domain.RankingGrid{Rows: make([]domain.RankingRow, shape.Rows)}
		for r := range grid.Rows {
			row := domain.RankingRow{Order: r, Columns: make([]domain.RankingColumn, shape.Columns)}
			for c := range row.Columns {
				row.Columns[c] = domain.RankingColumn{Order: c, Points: domain.DefaultSlotPoints}
			}
			grid.Rows[r] = row
		}
		st.Ranking = grid

	case domain.KindTournament:
		b, err := bracket.New(shape.Rounds)
		if err != nil {
			return nil, err
		}
		for i := range b.Nodes {
			b.Nodes[i].Points = domain.DefaultSlotPoints
		}
		st.Bracket = b

	case domain.KindBingo:
		board := &domain.BingoBoard{
			Size:  shape.GridSize,
			Cells: make([]domain.BingoCell, 0, shape.GridSize*shape.GridSize),
		}
		for r := 0; r < shape.GridSize; r++ {
			for c := 0; c < shape.GridSize; c++ {
				board.Cells = append(board.Cells, domain.BingoCell{
					Row:    r,
					Column: c,
					Points: domain.DefaultSlotPoints,
				})
			}
		}
		st.Bingo = board
	}

	return st, nil
}

// SlotRef addresses one directly assignable slot. Row/Column address ranking
// and bingo slots; Node addresses a tournament leaf by arena id.
type SlotRef struct {
	Row    int `json:"row"`
	Column int `json:"column"`
	Node   int `json:"node"`
}

// Assign binds a team to a slot. The team must not already occupy another
// slot in the same structure and the slot must be empty. Uniqueness is a
// linear scan; structures are small enough that this is fine.
func Assign(st *domain.Structure, ref SlotRef, teamID int64) error {
	if teamID == 0 {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("assign: team id must be set"),
		)
	}

	target, err := slot(st, ref)
	if err != nil {
		return err
	}

	if *target != 0 {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithKind(errors.KindSlotOccupied),
			errors.WithMessagef("assign: slot %+v already holds team %d", ref, *target),
		)
	}

	if occupied(st, teamID) {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithKind(errors.KindTeamAlreadyAssigned),
			errors.WithMessagef("assign: team %d is already assigned in this structure", teamID),
		)
	}

	*target = teamID
	return nil
}

// Unassign clears a slot. Clearing an empty slot is surfaced as an error;
// callers that want no-op semantics check the kind.
func Unassign(st *domain.Structure, ref SlotRef) error {
	target, err := slot(st, ref)
	if err != nil {
		return err
	}

	if *target == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithKind(errors.KindSlotEmpty),
			errors.WithMessagef("unassign: slot %+v is already empty", ref),
		)
	}

	*target = 0
	return nil
}

// IsComplete reports whether every directly assignable slot holds a team.
// For tournaments that means every leaf; internal nodes are derived and do
// not gate completeness.
func IsComplete(st *domain.Structure) bool {
	switch st.Kind {
	case domain.KindRanking:
		for _, row := range st.Ranking.Rows {
			for _, col := range row.Columns {
				if col.TeamID == 0 {
					return false
				}
			}
		}
		return true

	case domain.KindTournament:
		return st.Bracket.Complete()

	case domain.KindBingo:
		for _, cell := range st.Bingo.Cells {
			if cell.TeamID == 0 {
				return false
			}
		}
		return true
	}

	return false
}

// slot resolves a ref to the team field of the addressed slot.
func slot(st *domain.Structure, ref SlotRef) (*int64, error) {
	badRef := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidArgument, errors.WithMessagef(format, args...))
	}

	switch st.Kind {
	case domain.KindRanking:
		if ref.Row < 0 || ref.Row >= len(st.Ranking.Rows) {
			return nil, badRef("slot: row %d out of range", ref.Row)
		}
		row := &st.Ranking.Rows[ref.Row]
		if ref.Column < 0 || ref.Column >= len(row.Columns) {
			return nil, badRef("slot: column %d out of range", ref.Column)
		}
		return &row.Columns[ref.Column].TeamID, nil

	case domain.KindTournament:
		node := st.Bracket.Node(ref.Node)
		if node == nil {
			return nil, badRef("slot: node %d out of range", ref.Node)
		}
		if !node.IsLeaf() {
			return nil, badRef("slot: node %d is internal, only leaves are assignable", ref.Node)
		}
		return &node.TeamID, nil

	case domain.KindBingo:
		for i := range st.Bingo.Cells {
			cell := &st.Bingo.Cells[i]
			if cell.Row == ref.Row && cell.Column == ref.Column {
				return &cell.TeamID, nil
			}
		}
		return nil, badRef("slot: cell (%d,%d) out of range", ref.Row, ref.Column)
	}

	return nil, badRef("slot: unknown structure kind %q", st.Kind)
}

// occupied reports whether the team already holds any assignable slot.
func occupied(st *domain.Structure, teamID int64) bool {
	switch st.Kind {
	case domain.KindRanking:
		for _, row := range st.Ranking.Rows {
			for _, col := range row.Columns {
				if col.TeamID == teamID {
					return true
				}
			}
		}

	case domain.KindTournament:
		return st.Bracket.FindLeaf(teamID) != nil

	case domain.KindBingo:
		for _, cell := range st.Bingo.Cells {
			if cell.TeamID == teamID {
				return true
			}
		}
	}

	return false
}
