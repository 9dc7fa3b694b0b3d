package httpapi

import "github.com/krich11/kme-sub000/pkg/kmeerror"

// errUnauthenticated fires only if a handler runs without
// saeauth.Middleware in front of it (e.g. a handler test calling it
// directly), since the middleware itself rejects unauthenticated
// requests before any handler sees them.
var errUnauthenticated = kmeerror.AuthenticationFailed("no authenticated SAE identity on request context")
