// Package ui implements a command-line user interface using [tea].
package ui

import (
	"context"
	"fmt"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertwitch/mirrord/internal/engine"
)

type progressProvider interface {
	Progress() engine.Progress
}

// Handler is the principal implementation of a user interface [Handler].
type Handler struct {
	progressProvider progressProvider
	program          *tea.Program

	LogWriter *TeaLogWriter

	Ready  atomic.Bool
	Failed atomic.Bool
}

// NewHandler returns a pointer to a new user interface [Handler]. Cancelling
// the context ends the interface, the interface calls cancel on ctrl+c.
func NewHandler(ctx context.Context, cancel context.CancelFunc, progressProvider progressProvider) *Handler {
	handler := &Handler{
		progressProvider: progressProvider,
	}

	model := NewTeaModel(handler, cancel)
	handler.program = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	handler.LogWriter = NewTeaLogWriter(handler.program)

	return handler
}

// Launch starts the command-line user interface (the [tea.Program]) and
// blocks until it ends.
func (uiHandler *Handler) Launch() error {
	defer uiHandler.LogWriter.Stop()

	if _, err := uiHandler.program.Run(); err != nil {
		uiHandler.Failed.Store(true)

		return fmt.Errorf("(ui) %w", err)
	}

	return nil
}
