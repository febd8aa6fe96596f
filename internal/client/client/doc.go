// Package client contains client-side building blocks for medscribe.
//
// # Overview
//
// The package provides:
//  1. The API contract (see the Client interface) for the medscribe backend:
//     register, login with optional second factor, refresh, logout, the
//     current-user profile, jobs and audio upload.
//  2. A concrete HTTP/JSON implementation (see HTTPClient) that attaches the
//     bearer token, tags each request with an X-Request-ID, throttles
//     outbound calls and maps response statuses to sentinel errors.
//  3. PersistentJar, a cookie jar that keeps the HTTP-only refresh cookie
//     across restarts by mirroring it into the local metadata store.
//  4. Local persistence bootstrap (InitDatabase, RunMigrations) wiring an
//     SQLite database and applying embedded goose migrations.
//
// # Error Handling
//
// Non-2xx responses are returned as *APIError. It matches the sentinels with
// errors.Is: 401 is ErrUnauthorized, 403 ErrForbidden, 404 ErrNotFound,
// 400/409/422 ErrValidation and 502/503/504 ErrUnavailable. Transport
// failures also match ErrUnavailable.
//
// # Concurrency & Contexts
//
// HTTPClient and PersistentJar are safe for concurrent use. All operations
// accept context.Context and honor cancellation.
package client
