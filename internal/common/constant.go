// Package common contains shared constants, sentinel errors and small helpers
// used by the medscribe client and its stub backend.
package common

const (
	// RefreshCookieName is the HTTP-only cookie carrying the refresh grant.
	RefreshCookieName = "refresh_token"

	// AuthorizationHeaderName carries the bearer access token on outbound requests.
	AuthorizationHeaderName = "Authorization"

	// BearerScheme prefixes the access token in the Authorization header.
	BearerScheme = "Bearer "

	// RequestIDHeaderName correlates a client request with backend logs.
	RequestIDHeaderName = "X-Request-ID"
)
