// Package webhook implements the System.io enrollment webhook endpoint:
// HMAC-SHA256 signature verification, per-client rate limiting, payload
// decoding and the orchestration pipeline that turns tag events into
// account provisioning.
//
// # Security Model
//
//   - HMAC-SHA256 signatures verified using crypto/subtle (constant-time comparison)
//   - Fixed-window rate limiting per forwarded client IP
//   - Body size limits enforced to prevent DoS attacks
//   - No signature details leaked in error responses (generic 401)
//   - Request logging excludes payload content
//   - The shared secret comes from configuration (never hardcoded)
//
// # Request Flow
//
//  1. HTTP POST arrives at /webhooks/systemio
//  2. Body size checked (reject with 413 if too large)
//  3. Rate limiter consulted per client key (reject with 429, not logged)
//  4. Shared secret presence checked (500 configuration fault if missing)
//  5. HMAC-SHA256 verified over the raw body (reject with 401, not logged)
//  6. Payload decoded; a parse failure is logged and answered 200
//  7. Tag resolved against the membership/course catalog
//  8. Account provisioned or cancelled; the decision is logged
//  9. 200 returned with a summary
//
// Only pre-parse rejections use non-200 status codes. Business-logic
// failures still answer 200: the upstream sender retries on error codes,
// and a retry storm cannot fix a provisioning bug. Re-delivery of the same
// payload is the recovery path, which is why provisioning is idempotent.
package webhook
