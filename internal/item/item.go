// Package item defines the result items produced by query handlers.
//
// Items are shared between concurrent producers and the presentation layer.
// Once handed to a query they must not be mutated.
package item

import (
	"os/exec"

	"github.com/mattjoyce/quern/internal/log"
)

// Urgency is the primary ranking key. Lower values sort first.
//
// The numeric order is a fixed contract: Alert < Notification < Normal.
type Urgency int

const (
	UrgencyAlert Urgency = iota
	UrgencyNotification
	UrgencyNormal
)

// String returns a string representation of the urgency.
func (u Urgency) String() string {
	switch u {
	case UrgencyAlert:
		return "alert"
	case UrgencyNotification:
		return "notification"
	case UrgencyNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// Action is an activatable operation attached to an item.
type Action interface {
	Text() string
	Activate()
}

// Item is a single query result.
type Item interface {
	// ID identifies the item across queries. Usage scores are keyed by it.
	ID() string
	Text() string
	Subtext() string
	IconPath() string
	Completion() string
	Urgency() Urgency
	Actions() []Action
}

// Standard is the plain value implementation of Item.
type Standard struct {
	Identifier  string
	Icon        string
	Title       string
	Description string
	Complete    string
	Level       Urgency
	ActionList  []Action
}

// NewStandard builds a Standard item with normal urgency.
func NewStandard(id, icon, text, subtext string, actions ...Action) *Standard {
	return &Standard{
		Identifier:  id,
		Icon:        icon,
		Title:       text,
		Description: subtext,
		Complete:    text,
		Level:       UrgencyNormal,
		ActionList:  actions,
	}
}

func (s *Standard) ID() string         { return s.Identifier }
func (s *Standard) Text() string       { return s.Title }
func (s *Standard) Subtext() string    { return s.Description }
func (s *Standard) IconPath() string   { return s.Icon }
func (s *Standard) Completion() string { return s.Complete }
func (s *Standard) Urgency() Urgency   { return s.Level }

// Actions returns a copy so callers cannot mutate the shared item.
func (s *Standard) Actions() []Action {
	out := make([]Action, len(s.ActionList))
	copy(out, s.ActionList)
	return out
}

// FuncAction runs a Go function on activation.
type FuncAction struct {
	Label string
	Fn    func()
}

// NewFuncAction creates an action calling fn.
func NewFuncAction(label string, fn func()) *FuncAction {
	return &FuncAction{Label: label, Fn: fn}
}

func (a *FuncAction) Text() string { return a.Label }

func (a *FuncAction) Activate() {
	if a.Fn != nil {
		a.Fn()
	}
}

// ProcessAction starts a detached process on activation.
type ProcessAction struct {
	Label   string
	Command string
	Args    []string
}

// NewOpenURLAction opens target with the desktop opener (xdg-open).
func NewOpenURLAction(label, target string) *ProcessAction {
	return &ProcessAction{Label: label, Command: "xdg-open", Args: []string{target}}
}

func (a *ProcessAction) Text() string { return a.Label }

// Activate starts the process without waiting for it.
func (a *ProcessAction) Activate() {
	cmd := exec.Command(a.Command, a.Args...)
	if err := cmd.Start(); err != nil {
		log.WithComponent("item").Warn("action failed", "action", a.Label, "command", a.Command, "error", err)
		return
	}
	go func() { _ = cmd.Wait() }()
}
