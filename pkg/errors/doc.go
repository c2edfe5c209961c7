// Package errors provides structured error handling with error codes for simple-federation.
//
// Errors carry a typed code, a human readable message and an optional wrapped cause.
// The federation core only raises a handful of codes:
//
//   - ErrCodeConflict: a uniqueness constraint was violated (duplicate username on create)
//   - ErrCodeStoreUnavailable: the underlying store or connection failed
//   - ErrCodeInvalidInput / ErrCodeInvalidConfig: bad arguments or provider configuration
//
// Lookup misses are never errors; repositories return a nil record instead. Unsupported
// credential types are answered with false or a no-op, so ErrCodeUnsupportedCredential is
// only used by the HTTP binding when a caller names a type explicitly.
//
// # Basic Usage
//
//	err := errors.Conflict("username", username)
//
//	if err := pool.Ping(ctx); err != nil {
//		return errors.StoreUnavailable(err, "ping")
//	}
//
//	if errors.IsCode(err, errors.ErrCodeConflict) {
//		// duplicate username
//	}
//
// # HTTP Status Code Mapping
//
//   - ErrCodeInvalidInput → 400 Bad Request
//   - ErrCodeInvalidCredentials → 401 Unauthorized
//   - ErrCodeNotFound → 404 Not Found
//   - ErrCodeConflict → 409 Conflict
//   - ErrCodeStoreUnavailable → 503 Service Unavailable
//   - everything else → 500 Internal Server Error
package errors
