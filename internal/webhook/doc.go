// Package webhook receives credit top-up notifications from payment
// providers over HMAC-SHA256 signed HTTP endpoints.
//
// Each endpoint is bound to one provider and a pre-shared secret. The
// signature covers the raw request body and is compared in constant time.
// Failures always answer a generic 403.
//
//	api:
//	  webhooks:
//	    - path: /webhooks/topup/paystack
//	      provider: paystack
//	      secret: ${PAYSTACK_WEBHOOK_SECRET}
//	      signature_header: X-Paystack-Signature
//	      max_body_size: 64KB
//
// A notice is applied at most once per provider reference, so providers may
// redeliver freely.
//
// # Responses
//
//   - 200 OK: notice applied, or already applied (applied=false)
//   - 400 Bad Request: malformed notice
//   - 403 Forbidden: missing or invalid signature
//   - 404 Not Found: unknown billing account
//   - 413 Payload Too Large: body exceeds max_body_size
package webhook
