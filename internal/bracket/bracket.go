package bracket

import (
	"github.com/predikto/predikto/internal/errors"
)

// None marks an absent node reference in the arena.
const None = -1

// Node is one position in a single-elimination tree. Nodes reference each
// other by arena index instead of pointers so a Bracket serializes cleanly.
type Node struct {
	ID      int   `json:"id"`
	Round   int   `json:"round"`
	Order   int   `json:"order"`
	Parent  int   `json:"parent"`
	Left    int   `json:"left"`
	Right   int   `json:"right"`
	TeamID  int64 `json:"team_id"`
	Points  int64 `json:"points"`
	IsWrong bool  `json:"is_wrong"`
}

// IsLeaf reports whether the node is a round-1 leaf. Leaves are the only
// directly assignable positions; every internal node holds a derived winner.
func (n *Node) IsLeaf() bool {
	return n.Left == None && n.Right == None
}

// Bracket is a complete binary elimination tree for Rounds match rounds.
// Leaves sit at round 1 and the single parentless root at round Rounds+1,
// giving 2^Rounds leaf slots and 2^(Rounds+1)-1 nodes in total.
type Bracket struct {
	Rounds int    `json:"rounds"`
	Root   int    `json:"root"`
	Nodes  []Node `json:"nodes"`
}

// New builds an empty bracket for the given number of match rounds.
// Construction is recursive: a one-round bracket is a root with two leaf
// children, a bracket of r rounds wraps two (r-1)-round subtrees.
func New(rounds int) (*Bracket, error) {
	if rounds < 1 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithKind(errors.KindInvalidShape),
			errors.WithMessagef("bracket: number of rounds must be at least 1, got %d", rounds),
		)
	}

	b := &Bracket{
		Rounds: rounds,
		Nodes:  make([]Node, 0, (1<<(rounds+1))-1),
	}

	next := make([]int, rounds+2)
	b.Root = b.grow(rounds+1, None, next)

	// An odd shape here means the construction math is broken, not bad input.
	if want := (1 << (rounds + 1)) - 1; len(b.Nodes) != want {
		return nil, errors.New(errors.CodeInternal,
			errors.WithMessagef("bracket: corrupt tree: %d nodes built for %d rounds, want %d", len(b.Nodes), rounds, want),
		)
	}

	return b, nil
}

// grow allocates the subtree rooted at the given round and returns its arena
// index. Orders are handed out per round in visit order, which makes sibling
// orders (2k, 2k+1): even on the left, odd on the right.
func (b *Bracket) grow(round, parent int, next []int) int {
	id := len(b.Nodes)
	b.Nodes = append(b.Nodes, Node{
		ID:     id,
		Round:  round,
		Order:  next[round],
		Parent: parent,
		Left:   None,
		Right:  None,
	})
	next[round]++

	if round > 1 {
		b.Nodes[id].Left = b.grow(round-1, id, next)
		b.Nodes[id].Right = b.grow(round-1, id, next)
	}

	return id
}

// Node returns the node at the given arena index, or nil if out of range.
func (b *Bracket) Node(id int) *Node {
	if id < 0 || id >= len(b.Nodes) {
		return nil
	}
	return &b.Nodes[id]
}

// Leaves returns the round-1 nodes left to right.
func (b *Bracket) Leaves() []*Node {
	leaves := make([]*Node, 0, 1<<b.Rounds)
	for i := range b.Nodes {
		if b.Nodes[i].IsLeaf() {
			leaves = append(leaves, &b.Nodes[i])
		}
	}
	return leaves
}

// LeafCount returns the number of directly assignable slots.
func (b *Bracket) LeafCount() int {
	return 1 << b.Rounds
}

// AdvanceWinner resolves an internal node by propagating the team held by
// the child the caller declared as winner. Both children must already hold a
// team (directly assigned for leaves, previously advanced for internal nodes).
func (b *Bracket) AdvanceWinner(nodeID, winnerID int) error {
	node := b.Node(nodeID)
	if node == nil || node.IsLeaf() {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("bracket: node %d is not an internal node", nodeID),
		)
	}

	if winnerID != node.Left && winnerID != node.Right {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("bracket: node %d is not a child of node %d", winnerID, nodeID),
		)
	}

	left, right := b.Node(node.Left), b.Node(node.Right)
	if left.TeamID == 0 || right.TeamID == 0 {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithKind(errors.KindIncompleteSubtree),
			errors.WithMessagef("bracket: cannot advance winner at node %d: both children must be resolved", nodeID),
		)
	}

	node.TeamID = b.Node(winnerID).TeamID
	return nil
}

// FindLeaf returns the leaf holding the given team, or nil.
func (b *Bracket) FindLeaf(teamID int64) *Node {
	for i := range b.Nodes {
		if b.Nodes[i].IsLeaf() && b.Nodes[i].TeamID == teamID {
			return &b.Nodes[i]
		}
	}
	return nil
}

// Complete reports whether every leaf holds a team.
func (b *Bracket) Complete() bool {
	for i := range b.Nodes {
		if b.Nodes[i].IsLeaf() && b.Nodes[i].TeamID == 0 {
			return false
		}
	}
	return true
}
