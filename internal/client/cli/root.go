package cli

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/medscribe/internal/client/session"
)

func (a *App) getStatus() string {
	s := ""
	if u := a.authService.Status().User; u != nil {
		s = u.Username + " "
	}
	if m := a.currentMode(); m != "" {
		s = s + string(m)
	}
	if s != "" {
		s = fmt.Sprintf("(%s)", s)
	}
	return s
}

// Root restores any persisted session, starts the connectivity watcher and
// runs the REPL until the user leaves.
func (a *App) Root(ctx context.Context) {
	fmt.Fprintln(a.out, "medscribe CLI (type 'help' for commands)")

	a.checkOnline(ctx)
	if a.authService.Restore(ctx) == session.StateAuthenticated {
		a.greet()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go a.StartOnlineStatusWatcher(ctx, a.config.HealthCheckInterval)

	runREPL(ctx, a, a.getStatus, a.reader)
}
