package sync

import "errors"

// ErrorKind classifies a user-visible error.
type ErrorKind string

const (
	// ErrorConnectivity covers transport drops and server fault events.
	ErrorConnectivity ErrorKind = "connectivity"
	// ErrorFetch covers request/response failures, retryable by user action.
	ErrorFetch ErrorKind = "fetch"
	// ErrorCache covers local storage failures, degraded to cache-miss behavior.
	ErrorCache ErrorKind = "cache"
	// ErrorValidation covers synchronous precondition failures.
	ErrorValidation ErrorKind = "validation"
)

// ErrorScope groups errors by the operation family whose next success
// clears them from the banner.
type ErrorScope string

const (
	ScopeLoad       ErrorScope = "load"
	ScopeSend       ErrorScope = "send"
	ScopeConnection ErrorScope = "connection"
)

// ErrorInfo is the coordinator-owned user-visible error field.
type ErrorInfo struct {
	Kind      ErrorKind
	Scope     ErrorScope
	Message   string
	Code      string
	Retryable bool
}

// Error codes set by the coordinator.
const (
	CodeStaleData        = "STALE_DATA"
	CodeLoadFailed       = "LOAD_FAILED"
	CodeSendFailed       = "SEND_FAILED"
	CodeCacheDegraded    = "CACHE_DEGRADED"
	CodeNoChatSelected   = "NO_CHAT_SELECTED"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
)

var (
	// ErrNoChatSelected is returned by Send when no chat is open.
	ErrNoChatSelected = errors.New("no chat selected")
	// ErrNotAuthenticated is returned by Send before login.
	ErrNotAuthenticated = errors.New("not authenticated")
)
