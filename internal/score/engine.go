package score

import (
	"github.com/predikto/predikto/internal/domain"
	"github.com/predikto/predikto/internal/errors"
)

// Compare diffs a submission against the official structure, overwrites the
// per-slot wrong marks on the submission and returns the total awarded
// points. Running it again with the same inputs yields the same total; marks
// and totals are replaced, never accumulated.
func Compare(official, submission *domain.Structure) (int64, error) {
	if err := sameShape(official, submission); err != nil {
		return 0, err
	}

	switch official.Kind {
	case domain.KindRanking:
		return compareRanking(official.Ranking, submission.Ranking), nil
	case domain.KindTournament:
		return compareBracket(official, submission), nil
	case domain.KindBingo:
		return compareBingo(official.Bingo, submission.Bingo), nil
	}

	return 0, errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("score: unknown structure kind %q", official.Kind),
	)
}

// sameShape guards against structures that are not structurally identical.
// The data model is supposed to make this impossible; defend anyway.
func sameShape(official, submission *domain.Structure) error {
	if official.Kind != submission.Kind || !official.Shape().Equal(submission.Shape()) {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithKind(errors.KindShapeMismatch),
			errors.WithMessagef("score: official %+v and submission %+v are not comparable", official.Shape(), submission.Shape()),
		)
	}
	return nil
}

// compareRanking awards the slot points for every exact (row, column) match
// and marks a row wrong when any of its slots mismatches.
func compareRanking(official, submission *domain.RankingGrid) int64 {
	var total int64
	for r := range submission.Rows {
		row := &submission.Rows[r]
		row.IsWrong = false
		for c := range row.Columns {
			col := &row.Columns[c]
			if col.TeamID != 0 && col.TeamID == official.Rows[r].Columns[c].TeamID {
				total += col.Points
			} else {
				row.IsWrong = true
			}
		}
	}
	return total
}

// compareBracket scores every node independently: leaves and derived winners
// alike. A wrong early-round pick does not void credit for later rounds the
// submitter called correctly on their own.
func compareBracket(official, submission *domain.Structure) int64 {
	var total int64
	for i := range submission.Bracket.Nodes {
		node := &submission.Bracket.Nodes[i]
		want := official.Bracket.Nodes[i].TeamID
		if node.TeamID != 0 && node.TeamID == want {
			total += node.Points
			node.IsWrong = false
		} else {
			node.IsWrong = true
		}
	}
	return total
}

func compareBingo(official, submission *domain.BingoBoard) int64 {
	var total int64
	for i := range submission.Cells {
		cell := &submission.Cells[i]
		if cell.TeamID != 0 && cell.TeamID == official.Cells[i].TeamID {
			total += cell.Points
			cell.IsWrong = false
		} else {
			cell.IsWrong = true
		}
	}
	return total
}
