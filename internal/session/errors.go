package session

import "fmt"

// Kind classifies an initialization failure
type Kind string

const (
	// KindInvalidCredentials means only one of the Bitbucket username and token was supplied
	KindInvalidCredentials Kind = "InvalidCredentials"
	// KindInvalidAPIKey means PostHog rejected the API key
	KindInvalidAPIKey Kind = "InvalidApiKey"
	// KindInvalidRepoConfig means Bitbucket did not return the repository
	KindInvalidRepoConfig Kind = "InvalidRepoConfig"
	// KindAPIUnreachable means a probe failed at the transport level
	KindAPIUnreachable Kind = "ApiUnreachable"
)

// Sentinels for errors.Is. Any *Error with the same Kind matches.
var (
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrInvalidAPIKey      = &Error{Kind: KindInvalidAPIKey}
	ErrInvalidRepoConfig  = &Error{Kind: KindInvalidRepoConfig}
	ErrAPIUnreachable     = &Error{Kind: KindAPIUnreachable}
)

// Error is a fatal initialization failure
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error returns the error message, prefixed by the failed check
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func newError(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}
