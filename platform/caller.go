// Package platform talks to the host environment: the identity directory,
// the outbound integration hook and the caller identity the host asserts on
// every request.
package platform

import "context"

// Caller is the identity the host asserted for the current request.
type Caller struct {
	AccountID string
	// Token is forwarded verbatim as the Authorization header on directory calls.
	Token string
}

type callerKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFrom returns the caller in ctx, if any.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.AccountID == "" && c.Token == "" {
		return Caller{}, false
	}
	return c, true
}
