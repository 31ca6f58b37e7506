package room

import "fmt"

// History is the undo/redo pair stored for a room.
//
// Undo is ordered oldest first and grows at the tail. Redo holds the most
// recently undone snapshot at its head. Both slices are always non-nil so
// they serialize as empty arrays.
type History struct {
	Undo []string
	Redo []string
}

// Returns an empty history
func NewHistory() History {
	return History{Undo: []string{}, Redo: []string{}}
}

// Clone returns a deep copy; transitions never share backing arrays with
// the value they were computed from.
func (h History) Clone() History {
	c := History{
		Undo: make([]string, len(h.Undo)),
		Redo: make([]string, len(h.Redo)),
	}
	copy(c.Undo, h.Undo)
	copy(c.Redo, h.Redo)
	return c
}

// Normalize replaces nil stacks with empty ones
func (h History) Normalize() History {
	if h.Undo == nil {
		h.Undo = []string{}
	}
	if h.Redo == nil {
		h.Redo = []string{}
	}
	return h
}

// Apply returns the history produced by a. The receiver is not modified.
func (h History) Apply(a Action) History {
	next := h.Clone()

	switch a := a.(type) {
	case Clear:
		return NewHistory()

	case Undo:
		// The last committed canvas is never undone away
		if len(next.Undo) <= 1 {
			return next
		}
		last := len(next.Undo) - 1
		top := next.Undo[last]
		next.Undo = next.Undo[:last]
		next.Redo = append([]string{top}, next.Redo...)

	case Redo:
		if len(next.Redo) == 0 {
			return next
		}
		head := next.Redo[0]
		next.Redo = next.Redo[1:]
		next.Undo = append(next.Undo, head)

	case Save:
		next.Undo = append(next.Undo, a.Ref)
		next.Redo = []string{}

	case Passthrough:

	default:
		panic(fmt.Sprintf("room: unhandled action %T", a))
	}

	return next
}

// Equal reports whether both stacks hold the same references in the same order
func (h History) Equal(o History) bool {
	return equalRefs(h.Undo, o.Undo) && equalRefs(h.Redo, o.Redo)
}

func equalRefs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
