package lifecycle

import (
	"github.com/vinayprograms/orderclaim/errors"
)

// Role is the capacity in which a caller acts.
type Role string

const (
	RoleProvider Role = "provider"
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleProvider, RoleCustomer, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Action names an edge of a machine, for example "claim" or "approve".
type Action string

// Caller identifies who performs an action. It is always passed
// explicitly; nothing reads identity from ambient state.
type Caller struct {
	ID   string
	Role Role
}

// Transition is one edge of a machine.
type Transition[S ~string] struct {
	From   S
	Action Action
	Roles  []Role
	To     S

	// Owned edges require the caller to be the record's owner for the
	// caller's role.
	Owned bool
}

func (t Transition[S]) allows(role Role) bool {
	for _, r := range t.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type edgeKey[S ~string] struct {
	from   S
	action Action
}

// Machine is a fixed, table-driven state machine. It is immutable after
// New and safe for concurrent use.
type Machine[S ~string] struct {
	kind     string
	table    []Transition[S]
	edges    map[edgeKey[S]][]Transition[S]
	terminal map[S]bool
}

// New builds a machine. kind names the record type in errors and logs.
func New[S ~string](kind string, terminal []S, table ...Transition[S]) *Machine[S] {
	m := &Machine[S]{
		kind:     kind,
		table:    append([]Transition[S](nil), table...),
		edges:    make(map[edgeKey[S]][]Transition[S]),
		terminal: make(map[S]bool, len(terminal)),
	}
	for _, s := range terminal {
		m.terminal[s] = true
	}
	for _, t := range table {
		k := edgeKey[S]{t.From, t.Action}
		m.edges[k] = append(m.edges[k], t)
	}
	return m
}

// Kind returns the record type name.
func (m *Machine[S]) Kind() string {
	return m.kind
}

// IsTerminal reports whether s accepts no further actions.
func (m *Machine[S]) IsTerminal(s S) bool {
	return m.terminal[s]
}

// Transitions returns a copy of the table.
func (m *Machine[S]) Transitions() []Transition[S] {
	return append([]Transition[S](nil), m.table...)
}

// Candidates returns the edges leaving from on action that role may take.
func (m *Machine[S]) Candidates(from S, action Action, role Role) []Transition[S] {
	var out []Transition[S]
	for _, t := range m.edges[edgeKey[S]{from, action}] {
		if t.allows(role) {
			out = append(out, t)
		}
	}
	return out
}

// Resolve returns the edge for action taken by role from state from.
// It fails with TERMINAL_STATE or INVALID_TRANSITION; opts are applied to
// the error.
func (m *Machine[S]) Resolve(id string, from S, action Action, role Role, opts ...errors.Option) (Transition[S], error) {
	opts = append(opts, errors.WithMetadata("kind", m.kind))
	if m.terminal[from] {
		return Transition[S]{}, errors.TerminalState(id, string(from), opts...)
	}
	c := m.Candidates(from, action, role)
	if len(c) == 0 {
		return Transition[S]{}, errors.InvalidTransition(id, string(from), string(action), string(role), opts...)
	}
	return c[0], nil
}

// Actions lists the actions role may take from state from.
func (m *Machine[S]) Actions(from S, role Role) []Action {
	if m.terminal[from] {
		return nil
	}
	var out []Action
	seen := make(map[Action]bool)
	for _, t := range m.table {
		if t.From == from && t.allows(role) && !seen[t.Action] {
			seen[t.Action] = true
			out = append(out, t.Action)
		}
	}
	return out
}
