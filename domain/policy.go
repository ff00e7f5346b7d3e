package domain

import "errors"

// ErrNotAllowed marks a mutation denied by the authorization policy. The
// client uses it to short-circuit before any network call; the server uses
// it as the authoritative rejection.
var ErrNotAllowed = errors.New("not allowed")

// Actor identifies the user performing an operation. Identity comes from
// the auth collaborator; the policy treats it as opaque input.
type Actor struct {
	Name  string `json:"name"`
	Admin bool   `json:"admin"`
}

// Owns reports whether the actor created the task.
func (a Actor) Owns(t Task) bool { return t.Owner == a.Name }

// Decision is the outcome of a move authorization check.
type Decision struct {
	Allow       bool
	CrossColumn bool
}

// CanMove decides whether actor may move the task to the dest column.
// Owners may move their tasks anywhere. Administrators may reorder another
// user's task within its current column but may not relocate it across
// columns. Everyone else is denied.
//
// The same function runs on the client as a pre-flight check and on the
// server as the authoritative gate; the client result is advisory only.
func CanMove(t Task, actor Actor, dest Status) Decision {
	cross := dest != t.Status
	if actor.Owns(t) {
		return Decision{Allow: true, CrossColumn: cross}
	}
	if actor.Admin && !cross {
		return Decision{Allow: true}
	}
	return Decision{CrossColumn: cross}
}

// CanDelete decides whether actor may delete the task.
func CanDelete(t Task, actor Actor) bool {
	return actor.Owns(t) || actor.Admin
}

// CanEditTitle decides whether actor may change the task title.
func CanEditTitle(t Task, actor Actor) bool {
	return actor.Owns(t)
}
