package migration

import (
	"errors"
	"fmt"
	"strings"

	awsclient "tasnim.dev/ebscrypt/internal/aws"
	awsec2 "tasnim.dev/ebscrypt/internal/aws/ec2"
	"tasnim.dev/ebscrypt/internal/waiter"
)

// Kind classifies a migration failure.
type Kind string

const (
	KindNotFound        Kind = "not-found"
	KindInvalidState    Kind = "invalid-state"
	KindRemoteOperation Kind = "remote-operation"
	KindWaitTimeout     Kind = "wait-timeout"
	KindConnectivity    Kind = "connectivity"
	KindInvalidArgument Kind = "invalid-argument"
)

// Error is returned by every operation in this package. Instance, Volume
// and Step are set when known. Orphans lists resources created before the
// failure that were not cleaned up.
type Error struct {
	Kind     Kind
	Instance string
	Volume   string
	Step     State
	Orphans  []string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Instance != "" {
		fmt.Fprintf(&b, " instance=%s", e.Instance)
	}
	if e.Volume != "" {
		fmt.Fprintf(&b, " volume=%s", e.Volume)
	}
	if e.Step != "" {
		fmt.Fprintf(&b, " step=%s", e.Step)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, or "" if err is not a migration error.
func KindOf(err error) Kind {
	var merr *Error
	if errors.As(err, &merr) {
		return merr.Kind
	}
	return ""
}

// IsKind reports whether err is a migration error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Fatal reports whether err must abort the whole batch rather than just the
// current instance.
func Fatal(err error) bool {
	switch KindOf(err) {
	case KindConnectivity, KindInvalidArgument:
		return true
	}
	return false
}

// classify maps errors from the AWS client and waiter layers onto a kind.
// fallback is used for anything unrecognised.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, awsec2.ErrUnreachable), errors.Is(err, awsclient.ErrConnectivity):
		return KindConnectivity
	case errors.Is(err, waiter.ErrTimeout):
		return KindWaitTimeout
	default:
		return fallback
	}
}
