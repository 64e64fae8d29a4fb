// Package ratelimit enforces per-sending-domain and global send rates on
// the worker side. Counters live in Redis so all worker processes share one
// budget; the check-and-increment runs as a Lua script so two workers can
// never both spend the last slot.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const allowLuaScript = `
local domainKey = KEYS[1]
local globalKey = KEYS[2]
local increment = tonumber(ARGV[1])
local domainLimit = tonumber(ARGV[2])
local globalLimit = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local domCurrent = tonumber(redis.call("GET", domainKey) or "0")
local gloCurrent = tonumber(redis.call("GET", globalKey) or "0")

-- Check both limits before incrementing either
if domainLimit > 0 and domCurrent + increment > domainLimit then
    return {0, 1, domCurrent}
end
if globalLimit > 0 and gloCurrent + increment > globalLimit then
    return {0, 2, gloCurrent}
end

local newDom = redis.call("INCRBY", domainKey, increment)
if newDom == increment then
    redis.call("EXPIRE", domainKey, ttl)
end
local newGlo = redis.call("INCRBY", globalKey, increment)
if newGlo == increment then
    redis.call("EXPIRE", globalKey, ttl)
end

return {1, 0, newDom}
`

// Decision reports the outcome of one rate-limit check.
type Decision struct {
	Allowed bool
	// Reason is "domain" or "global" when denied.
	Reason  string
	Current int64
}

// Limiter is a fixed-window per-minute limiter shared across workers.
type Limiter struct {
	client             *redis.Client
	allowScript        *redis.Script
	perDomainPerMinute int
	globalPerMinute    int
}

// New creates a limiter. A zero limit disables that check.
func New(client *redis.Client, perDomainPerMinute, globalPerMinute int) *Limiter {
	return &Limiter{
		client:             client,
		allowScript:        redis.NewScript(allowLuaScript),
		perDomainPerMinute: perDomainPerMinute,
		globalPerMinute:    globalPerMinute,
	}
}

// Allow tries to reserve one send slot for the given sending domain in the
// current minute window.
func (l *Limiter) Allow(ctx context.Context, domain string) (Decision, error) {
	if l.client == nil {
		return Decision{Allowed: true}, nil
	}

	window := time.Now().UTC().Format("200601021504")
	keys := []string{
		fmt.Sprintf("ratelimit:domain:%s:%s", domain, window),
		fmt.Sprintf("ratelimit:global:%s", window),
	}
	// TTL of 120s keeps the previous window around briefly for inspection.
	res, err := l.allowScript.Run(ctx, l.client, keys,
		1, l.perDomainPerMinute, l.globalPerMinute, 120).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check for %s: %w", domain, err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 3 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %v", res)
	}
	allowed, _ := vals[0].(int64)
	reasonCode, _ := vals[1].(int64)
	current, _ := vals[2].(int64)

	d := Decision{Allowed: allowed == 1, Current: current}
	switch reasonCode {
	case 1:
		d.Reason = "domain"
	case 2:
		d.Reason = "global"
	}
	return d, nil
}

// Wait blocks until a slot is available for the domain or the context ends.
func (l *Limiter) Wait(ctx context.Context, domain string) error {
	for {
		d, err := l.Allow(ctx, domain)
		if err != nil {
			return err
		}
		if d.Allowed {
			return nil
		}
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
