// Package retry runs network requests under one adaptive backoff schedule.
//
// A Controller keeps a single delay shared by every request in the
// process. Retryable failures double it, and every fifth consecutive
// success shrinks it by ten percent, so the client slows down while the
// remote site struggles and speeds back up once it recovers.
//
// Transport wraps a Controller with the retry loop:
//
//	ctrl := retry.NewController(retry.ParamsFromConfig(cfg.Backoff))
//	tr := retry.NewTransport(ctrl,
//		retry.WithLimiter(ratelimit.New(cfg.RateLimit)),
//		retry.WithLogger(log),
//	)
//	page, err := retry.Execute(ctx, tr, "GET favorites", func(ctx context.Context) (*html.Node, error) {
//		return fetch(ctx)
//	})
//
// Errors are classified with errors.Classify. Retryable ones are tried
// up to five times before a retries_exhausted error is returned,
// permanent ones are returned after the first attempt.
package retry
