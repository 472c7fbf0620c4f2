package observability

import "context"

// AuthHook lets the composition root plug in custom session authentication
// ahead of a `reconnect` being honored. Optional: a nil AuthHook means every
// reconnect is authorized (the gateway's default, credential-free posture).
type AuthHook interface {
	Authenticate(ctx context.Context, userID, token string) (authorized bool, err error)
}

// RateLimiter lets the composition root bound how often a given key (a
// session id, in practice) may start a new turn. Optional: a nil
// RateLimiter never throttles.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RetentionHook decides whether a completed turn's conversation content may
// be persisted to durable storage (internal/sessionstore). Optional: a nil
// RetentionHook always retains.
type RetentionHook interface {
	ShouldRetain(ctx context.Context, sessionID string) (bool, error)
}
