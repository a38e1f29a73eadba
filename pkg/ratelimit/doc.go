// Package ratelimit caps the request rate of the transport.
//
// The adaptive backoff already paces requests; this limiter is an
// optional hard ceiling configured as requests per minute. It is backed
// by golang.org/x/time/rate:
//
//	limiter := ratelimit.New(cfg.RateLimit)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
