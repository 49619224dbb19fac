package structure_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
	"github.com/predikto/predikto/internal/structure"
)

func TestBuild(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		shape  domain.Shape
		assert func(t *testing.T, st *domain.Structure)
	}{
		"ranking grid has rows x columns empty slots": {
			shape: domain.Shape{Kind: domain.KindRanking, Rows: 3, Columns: 2},
			assert: func(t *testing.T, st *domain.Structure) {
				require.Len(t, st.Ranking.Rows, 3)
				for r, row := range st.Ranking.Rows {
					require.Equal(t, r, row.Order)
					require.Len(t, row.Columns, 2)
					for c, col := range row.Columns {
						require.Equal(t, c, col.Order)
						require.Zero(t, col.TeamID)
						require.Equal(t, domain.DefaultSlotPoints, col.Points)
					}
				}
			},
		},

		"tournament allocates the full tree with points per node": {
			shape: domain.Shape{Kind: domain.KindTournament, Rounds: 2},
			assert: func(t *testing.T, st *domain.Structure) {
				require.Len(t, st.Bracket.Nodes, 7)
				for _, n := range st.Bracket.Nodes {
					require.Zero(t, n.TeamID)
					require.Equal(t, domain.DefaultSlotPoints, n.Points)
				}
			},
		},

		"bingo board has gridSize^2 cells with unique coordinates": {
			shape: domain.Shape{Kind: domain.KindBingo, GridSize: 3},
			assert: func(t *testing.T, st *domain.Structure) {
				require.Len(t, st.Bingo.Cells, 9)
				seen := make(map[[2]int]bool)
				for _, cell := range st.Bingo.Cells {
					require.False(t, seen[[2]int{cell.Row, cell.Column}])
					seen[[2]int{cell.Row, cell.Column}] = true
				}
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			st, err := structure.Build(tt.shape)
			require.NoError(t, err)
			require.Equal(t, tt.shape, st.Shape())
			require.False(t, structure.IsComplete(st))
			tt.assert(t, st)
		})
	}
}

func TestBuild_InvalidShape(t *testing.T) {
	t.Parallel()

	shapes := []domain.Shape{
		{Kind: domain.KindRanking, Rows: 0, Columns: 2},
		{Kind: domain.KindRanking, Rows: 2, Columns: -1},
		{Kind: domain.KindTournament, Rounds: 0},
		{Kind: domain.KindBingo, GridSize: 0},
		{Kind: "pachinko", GridSize: 3},
	}

	for _, shape := range shapes {
		_, err := structure.Build(shape)
		require.Error(t, err, "shape %+v", shape)
		require.True(t, errors.IsKind(err, errors.KindInvalidShape))
	}
}

func TestAssign_Uniqueness(t *testing.T) {
	t.Parallel()

	st, err := structure.Build(domain.Shape{Kind: domain.KindRanking, Rows: 2, Columns: 2})
	require.NoError(t, err)

	require.NoError(t, structure.Assign(st, structure.SlotRef{Row: 0, Column: 0}, 7))

	// Same team in a second slot is refused, no matter which slot.
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			if r == 0 && c == 0 {
				continue
			}
			err := structure.Assign(st, structure.SlotRef{Row: r, Column: c}, 7)
			require.True(t, errors.IsKind(err, errors.KindTeamAlreadyAssigned))
		}
	}

	// The occupied slot refuses any team.
	err = structure.Assign(st, structure.SlotRef{Row: 0, Column: 0}, 8)
	require.True(t, errors.IsKind(err, errors.KindSlotOccupied))

	// After unassigning, the team can be placed elsewhere.
	require.NoError(t, structure.Unassign(st, structure.SlotRef{Row: 0, Column: 0}))
	require.NoError(t, structure.Assign(st, structure.SlotRef{Row: 1, Column: 1}, 7))
}

func TestAssign_TournamentLeavesOnly(t *testing.T) {
	t.Parallel()

	st, err := structure.Build(domain.Shape{Kind: domain.KindTournament, Rounds: 1})
	require.NoError(t, err)

	b := st.Bracket
	require.Error(t, structure.Assign(st, structure.SlotRef{Node: b.Root}, 5), "internal nodes are not assignable")

	leaves := b.Leaves()
	require.NoError(t, structure.Assign(st, structure.SlotRef{Node: leaves[0].ID}, 5))
	require.NoError(t, structure.Assign(st, structure.SlotRef{Node: leaves[1].ID}, 6))
	require.True(t, structure.IsComplete(st), "completeness ignores the unresolved root")

	err = structure.Assign(st, structure.SlotRef{Node: leaves[1].ID}, 5)
	require.True(t, errors.IsKind(err, errors.KindSlotOccupied))
}

func TestUnassign_EmptySlot(t *testing.T) {
	t.Parallel()

	st, err := structure.Build(domain.Shape{Kind: domain.KindBingo, GridSize: 2})
	require.NoError(t, err)

	err = structure.Unassign(st, structure.SlotRef{Row: 1, Column: 1})
	require.True(t, errors.IsKind(err, errors.KindSlotEmpty))
}

func TestIsComplete(t *testing.T) {
	t.Parallel()

	st, err := structure.Build(domain.Shape{Kind: domain.KindBingo, GridSize: 2})
	require.NoError(t, err)

	var team int64
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			require.False(t, structure.IsComplete(st))
			team++
			require.NoError(t, structure.Assign(st, structure.SlotRef{Row: r, Column: c}, team))
		}
	}
	require.True(t, structure.IsComplete(st))
}
