package broker

import "fmt"

// Error taxonomy for everything the broker can throw at us. Callers
// branch with errors.As; order placement is never auto-retried on an
// ambiguous error.

// TransportError covers socket, TLS, and malformed-frame failures. It
// is global: the engine treats transport loss as a stop condition.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// AuthError means the token was rejected or could not be refreshed.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}
func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError means the broker throttled the call; the specific
// call may be retried after backoff, order placement may not.
type RateLimitError struct {
	Endpoint string
}

func (e *RateLimitError) Error() string { return "rate limited: " + e.Endpoint }

// BrokerError is a business rejection inside a transport-level success:
// nonzero return_code, insufficient cash, venue rejected.
type BrokerError struct {
	APIID   string
	Code    string
	Message string
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("broker %s: return_code=%s %s", e.APIID, e.Code, e.Message)
}

// DataQualityError marks an unparseable field in an otherwise valid
// frame; the record is dropped, the stream continues.
type DataQualityError struct {
	Field string
	Value string
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("bad field %s=%q", e.Field, e.Value)
}
