package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// TLSPreference captures an explicit operator choice for the Redis scheme.
// Unset lets ResolveURL fall back to host heuristics.
type TLSPreference int

const (
	TLSUnset TLSPreference = iota
	TLSOn
	TLSOff
)

// ParseTLSPreference reads a REDIS_USE_TLS style value. Empty means unset.
func ParseTLSPreference(raw string) TLSPreference {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return TLSUnset
	case "1", "true", "yes", "on":
		return TLSOn
	default:
		return TLSOff
	}
}

// ResolveURL normalizes a Redis URL so the client accepts it. Managed
// providers hand out URLs that omit the scheme or start with "//"; this only
// adjusts the textual scheme and never validates credentials or hosts.
// Hosts containing "upstash" default to rediss unless TLS is explicitly off.
func ResolveURL(raw string, tls TLSPreference) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if tls == TLSOn {
			return "rediss://localhost:6379/0"
		}
		return "redis://localhost:6379/0"
	}

	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "redis://") || strings.HasPrefix(lower, "rediss://") || strings.HasPrefix(lower, "unix://") {
		return raw
	}

	preferTLS := tls == TLSOn
	if tls == TLSUnset && strings.Contains(lower, "upstash") {
		preferTLS = true
	}

	scheme := "redis"
	if preferTLS {
		scheme = "rediss"
	}
	return scheme + "://" + strings.TrimLeft(raw, "/")
}

// MaskURL hides credentials so connection targets can be logged safely.
func MaskURL(raw string) string {
	if raw == "" {
		return "redis://<none>"
	}
	proto, rest := "redis", raw
	if idx := strings.Index(raw, "://"); idx >= 0 {
		proto, rest = raw[:idx], raw[idx+3:]
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		return proto + "://***:***@" + rest[at+1:]
	}
	return proto + "://" + rest
}

// Connect initializes a Redis client from URL or host:port input.
// Supporting both formats keeps local/dev and container config paths simple.
func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.Contains(redisURL, "://") {
		opt, parseErr := redis.ParseURL(redisURL)
		if parseErr != nil {
			return nil, fmt.Errorf("parse redis url: %w", parseErr)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}
