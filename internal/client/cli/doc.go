// Package cli provides the interactive medscribe command-line client.
//
// It wires configuration, the local state database, the API client, the
// session manager and the services behind a REPL. Startup restores a
// persisted session when the refresh cookie is still valid, and a background
// watcher keeps the online/offline indicator current.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See App, StartOnlineStatusWatcher, and runREPL for details.
package cli
