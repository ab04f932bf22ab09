package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/imamik/vmaas/internal/provisioning"
)

// RunDeploy runs deployFn behind the dashboard. deployFn receives an
// observer wired to the program and a context that is canceled when the
// user quits. RunDeploy returns only after deployFn has.
func RunDeploy(ctx context.Context, m Model, deployFn func(context.Context, provisioning.Observer) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	done := make(chan error, 1)
	go func() {
		err := deployFn(ctx, NewObserver(p))
		done <- err
		if err != nil {
			p.Send(ErrMsg{Err: err})
			return
		}
		p.Send(DoneMsg{})
	}()

	finalModel, runErr := p.Run()
	cancel()
	deployErr := <-done

	if deployErr != nil {
		return deployErr
	}
	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	if fm, ok := finalModel.(Model); ok && !fm.Done {
		return fmt.Errorf("deployment interrupted")
	}
	return nil
}
