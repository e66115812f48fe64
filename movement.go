package main

import "errors"

// Position is a cell on a space's grid.
type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Space is the immutable geometry snapshot a room is created from. It is
// read once from the catalog when the first user joins and never mutated, so
// rooms may share it without locking.
type Space struct {
	ID     string
	Width  int
	Height int
	static map[Position]struct{}
}

func (s *Space) inBounds(p Position) bool {
	return p.X >= 0 && p.X < s.Width && p.Y >= 0 && p.Y < s.Height
}

func (s *Space) isStatic(p Position) bool {
	_, ok := s.static[p]
	return ok
}

// Movement rejection reasons, surfaced to the mover as movement-rejected with
// the authoritative current position.
var (
	errOutOfBounds = errors.New("destination outside space bounds")
	errBlockedCell = errors.New("destination cell is static")
	errIllegalStep = errors.New("move is not a single orthogonal step")
)

// validateMove decides whether a proposed step from current is legal. Checks
// run in order: bounds, static cells, then step shape. Exactly one orthogonal
// cell per move; standing still is not a move. Cells are not reserved per
// user, so two avatars may share one cell.
func validateMove(current, proposed Position, space *Space) error {
	if !space.inBounds(proposed) {
		return errOutOfBounds
	}
	if space.isStatic(proposed) {
		return errBlockedCell
	}

	dx := proposed.X - current.X
	if dx < 0 {
		dx = -dx
	}
	dy := proposed.Y - current.Y
	if dy < 0 {
		dy = -dy
	}
	if dx+dy != 1 {
		return errIllegalStep
	}
	return nil
}
