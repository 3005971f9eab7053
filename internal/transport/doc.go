// Package transport wraps outbound HTTP with a bounded retry [Policy].
//
// Every call returns a [Result] instead of an error: network failures, exhausted
// retries and non-retryable statuses all end up on the Result so callers can
// decide what a failure means for their own bookkeeping.
//
// # Retry Policy
//
// Transient outcomes (network errors, 408, 425, 429 and 5xx including the
// Cloudflare 52x range) are retried with exponential backoff starting at
// [Policy.Initial]. A Retry-After header, in seconds or as an HTTP date,
// replaces the computed backoff for that wait. Any other 4xx is logged with
// an explanation from [StatusMessage] and returned immediately.
//
// [Policy.Run] is independent of HTTP and is reused for browser page loads.
package transport
