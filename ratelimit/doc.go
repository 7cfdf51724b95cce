// Package ratelimit throttles callers with one token bucket per key.
//
// The HTTP API keys buckets by caller id so a single provider hammering
// the claim endpoint cannot starve everyone else:
//
//	limiter, err := ratelimit.NewLimiter(60, time.Minute) // 60 requests per minute per caller
//	if !limiter.Allow(callerID) {
//	    // reject with 429, Retry-After: limiter.RetryAfter()
//	}
//
// # Algorithm
//
//   - Each key starts with a full bucket of capacity tokens
//   - Tokens are added at a fixed rate based on capacity/window
//   - Each Allow consumes one token, or fails if none are left
//   - Buckets idle for a whole window are forgotten
//
// Limits are per process. Several daemons behind a load balancer each
// apply their own.
package ratelimit
