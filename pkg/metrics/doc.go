// Package metrics holds the Prometheus collectors for favmirror.
//
// Collectors are registered on the default registry at init. The
// transport records attempts and exhausted retries, the syncer records
// pages, uploads and finished runs. Serve exposes them over HTTP when
// metrics.address is configured:
//
//	go metrics.Serve(ctx, cfg.Metrics.Address, log)
package metrics
