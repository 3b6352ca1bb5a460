package common

// Metadata keys read by the transport adapter.
const (
	AccessTokenHeaderName    = "access_token"
	IdempotencyKeyHeaderName = "idempotency_key"
	CorrelationIDHeaderName  = "x-correlation-id"
)
