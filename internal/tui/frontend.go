package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/quern/internal/extension"
	"github.com/mattjoyce/quern/internal/log"
	"github.com/mattjoyce/quern/internal/query"
)

const teardownTimeout = 5 * time.Second

// Controller is the session surface the frontend owns for its lifetime.
type Controller interface {
	Session
	SetupSession()
	TeardownSession(ctx context.Context) error
	SetListener(l query.Listener)
}

// Frontend runs the launcher in the terminal.
type Frontend struct {
	id       string
	session  Controller
	registry *extension.Registry
	logger   *slog.Logger
	options  []tea.ProgramOption

	mu      sync.Mutex
	program *tea.Program
}

// New creates a terminal frontend. Extra program options are appended to
// the defaults.
func New(id string, session Controller, registry *extension.Registry, opts ...tea.ProgramOption) *Frontend {
	return &Frontend{
		id:       id,
		session:  session,
		registry: registry,
		logger:   log.WithComponent("tui"),
		options:  opts,
	}
}

func (f *Frontend) ID() string { return f.id }

// Run opens a session and shows the launcher until the user quits or ctx
// is done.
func (f *Frontend) Run(ctx context.Context) error {
	signal := make(chan struct{}, 1)
	f.session.SetListener(func(query.Event) {
		select {
		case signal <- struct{}{}:
		default:
		}
	})
	defer f.session.SetListener(nil)

	f.session.SetupSession()

	opts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, f.options...)
	p := tea.NewProgram(NewModel(f.session, f.registry, signal), opts...)
	f.setProgram(p)
	final, runErr := p.Run()
	f.setProgram(nil)

	if m, ok := final.(Model); ok && m.Activated() {
		f.logger.Debug("launcher closed after activation")
	}

	tctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	teardownErr := f.session.TeardownSession(tctx)

	if runErr != nil && !errors.Is(runErr, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", runErr)
	}
	return teardownErr
}

// ShowPlugins switches a running launcher to the plugin view.
func (f *Frontend) ShowPlugins() {
	f.mu.Lock()
	p := f.program
	f.mu.Unlock()
	if p != nil {
		p.Send(showPluginsMsg{})
	}
}

func (f *Frontend) setProgram(p *tea.Program) {
	f.mu.Lock()
	f.program = p
	f.mu.Unlock()
}

var _ extension.Frontend = (*Frontend)(nil)
