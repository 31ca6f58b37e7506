package room

// Action kinds that mutate history
const (
	KindClear = "clear"
	KindUndo  = "undo"
	KindRedo  = "redo"
	KindSave  = "save"
)

// Action is one client request against a room's history.
// The set of implementations is closed: Clear, Undo, Redo, Save and Passthrough.
type Action interface {
	// Kind is the wire name echoed back in the broadcast
	Kind() string
	isAction()
}

// Empties both stacks
type Clear struct{}

// Moves the newest committed snapshot onto the redo stack
type Undo struct{}

// Moves the most recently undone snapshot back onto the undo stack
type Redo struct{}

// Commits a new canvas snapshot
type Save struct {
	Ref string
}

// Any other kind. History is left untouched but the action is still broadcast,
// which lets clients share live cursor and stroke events.
type Passthrough struct {
	Name string
}

func (Clear) Kind() string         { return KindClear }
func (Undo) Kind() string          { return KindUndo }
func (Redo) Kind() string          { return KindRedo }
func (Save) Kind() string          { return KindSave }
func (p Passthrough) Kind() string { return p.Name }

func (Clear) isAction()       {}
func (Undo) isAction()        {}
func (Redo) isAction()        {}
func (Save) isAction()        {}
func (Passthrough) isAction() {}

// Mutates reports whether the action can change history
func Mutates(a Action) bool {
	_, ok := a.(Passthrough)
	return !ok
}
