// Package agenterr is the shared error taxonomy used across agentrun:
// modelcfg, tool, structured, runner and the provider adapters return
// errors built from this package (eval does so for case timeouts) so
// callers can type-switch or use the Is* predicates instead of matching on
// error strings.
package agenterr

import "fmt"

// Kind classifies an Error. The set mirrors the runtime's terminal error
// taxonomy: a failed run reports exactly one of these.
type Kind string

const (
	KindConfiguration    Kind = "configuration_error"
	KindProvider         Kind = "provider_error"
	KindTool             Kind = "tool_error"
	KindValidation       Kind = "validation_error"
	KindMaxIterations    Kind = "max_iterations_exceeded"
	KindUsageLimit       Kind = "usage_limit_exceeded"
	KindExecutionCancel  Kind = "execution_cancelled"
	KindTimeout          Kind = "timeout"
)

// ProviderErrorKind further classifies KindProvider errors, matching the
// status classes a transport.Client can observe from an HTTP response.
type ProviderErrorKind string

const (
	ProviderAuth        ProviderErrorKind = "auth"
	ProviderRateLimited  ProviderErrorKind = "rate_limited"
	ProviderBadRequest   ProviderErrorKind = "bad_request"
	ProviderServerError  ProviderErrorKind = "server_error"
	ProviderNetwork      ProviderErrorKind = "network"
)

// Error is the concrete error type returned by agentrun components. It
// carries enough structure for a caller to decide whether to retry, and
// enough text for a human to act on without retry.
type Error struct {
	Kind     Kind
	Provider ProviderErrorKind // set only when Kind == KindProvider
	Message  string
	Retryable bool
	Err      error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// NewProvider builds a provider-class Error.
func NewProvider(provKind ProviderErrorKind, message string, err error) *Error {
	return &Error{
		Kind:      KindProvider,
		Provider:  provKind,
		Message:   message,
		Retryable: provKind == ProviderRateLimited || provKind == ProviderServerError,
		Err:       err,
	}
}

// IsKind reports whether err (or any error it wraps) is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == k
}

// IsRetryable reports whether err is a provider error the caller may
// retry. Only rate_limited and server_error provider kinds are
// retryable; auth, bad_request, and network failures are not retried
// automatically.
func IsRetryable(err error) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	}
	if e == nil {
		return false
	}
	return e.Retryable
}
