package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/medscribe/internal/client/client"
	"github.com/dmitrijs2005/medscribe/internal/client/session"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the minimal command surface the REPL needs to operate.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Register(ctx context.Context) error
	Login(ctx context.Context) error
	Logout(ctx context.Context) error
	WhoAmI(ctx context.Context) error
	Status(ctx context.Context) error
	Jobs(ctx context.Context) error
	Job(ctx context.Context, id string) error
	History(ctx context.Context) error
	Queue(ctx context.Context) error
	Submit(ctx context.Context) error
	Upload(ctx context.Context, path string) error
	Profile(ctx context.Context) error
	ChangePassword(ctx context.Context) error
	TwoFactor(ctx context.Context, action string) error
}

const (
	helpSignedOut = "Available commands: register, login, status, exit"
	helpSignedIn  = "Available commands: whoami, status, jobs, job <id>, history, queue, submit, upload <path>, profile, passwd, 2fa on|off, logout, exit"
)

// runREPL starts a simple read–eval–print loop for the medscribe CLI.
//
// It reads a line from reader, parses the first token as the command, and
// dispatches to methods on 'a'. Commands prompt through the same reader, so
// nothing else may buffer stdin. The loop exits on EOF or when the user types
// "exit" or "quit". Command errors are reported and the loop carries on.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	for {
		printlnFn(fmt.Sprintf("ms %s> ", statusFn()))
		line, readErr := reader.ReadString('\n')
		if readErr != nil && line == "" {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var err error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				printlnFn(helpSignedIn)
			} else {
				printlnFn(helpSignedOut)
			}
		case "register":
			err = a.Register(ctx)
		case "login":
			err = a.Login(ctx)
		case "logout":
			err = a.Logout(ctx)
		case "whoami":
			err = a.WhoAmI(ctx)
		case "status":
			err = a.Status(ctx)
		case "jobs", "l":
			err = a.Jobs(ctx)
		case "job":
			if len(args) != 1 {
				printlnFn("Usage: job <id>")
				continue
			}
			err = a.Job(ctx, args[0])
		case "history":
			err = a.History(ctx)
		case "queue":
			err = a.Queue(ctx)
		case "submit":
			err = a.Submit(ctx)
		case "upload":
			if len(args) == 0 {
				printlnFn("Usage: upload <path>")
				continue
			}
			err = a.Upload(ctx, strings.Join(args, " "))
		case "profile":
			err = a.Profile(ctx)
		case "passwd":
			err = a.ChangePassword(ctx)
		case "2fa":
			if len(args) != 1 {
				printlnFn("Usage: 2fa on|off")
				continue
			}
			err = a.TwoFactor(ctx, args[0])
		case "exit", "quit":
			printlnFn("Bye!")
			return
		default:
			printlnFn("Unknown command:", cmd)
		}

		if err != nil {
			printlnFn(describeError(err))
		}
	}
}

// describeError turns command errors into one line for the terminal.
func describeError(err error) string {
	var apiErr *client.APIError
	switch {
	case errors.Is(err, session.ErrAuthRequired):
		return "Not signed in. Use 'login' first."
	case errors.Is(err, client.ErrUnavailable):
		return "Server unavailable, try again later."
	case errors.As(err, &apiErr):
		return "Error: " + apiErr.Detail
	default:
		return "Error: " + err.Error()
	}
}
