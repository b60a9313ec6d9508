// Package errors provides structured error handling for the SSO flow.
//
// Every failure mode of the login transaction and the request-time guards
// carries an ErrorCode so callers can branch on the class of failure
// (provider denial, CSRF mismatch, exchange failure, malformed token,
// unprovisioned user, directory sync, refresh failure) without string
// matching. Provider response bodies are preserved verbatim in wrapped
// errors for operator diagnosis and must never be parsed as trusted data.
//
// Usage:
//
//	err := errors.Wrapf(cause, errors.ErrCodeTokenExchange, "failed to obtain access token")
//	if errors.IsCode(err, errors.ErrCodeCsrfValidation) { ... }
package errors
