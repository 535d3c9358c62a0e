package protocol

// Error codes in ErrorShape.Code.
const (
	ErrUnauthorized      = "UNAUTHORIZED"
	ErrNotFound          = "NOT_FOUND"
	ErrResourceExhausted = "RESOURCE_EXHAUSTED"
	ErrUnavailable       = "UNAVAILABLE"
	ErrInternal          = "INTERNAL"
)
