// Package apierr defines the provider-agnostic failure taxonomy returned by
// every service operation. Callers translate these into wire errors with
// package errmap.
package apierr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the coarse failure class of an operation.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindAlreadyExists
	KindConflict
	KindInvalidArgument
	KindPreconditionFailed
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindConflict:
		return "Conflict"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindPreconditionFailed:
		return "PreconditionFailed"
	case KindCanceled:
		return "Canceled"
	default:
		return "Internal"
	}
}

// Reason narrows a Kind to a specific cause so a mapper can pick a precise
// provider error code.
type Reason string

const (
	ReasonNone                   Reason = ""
	ReasonInvalidName            Reason = "InvalidName"
	ReasonInvalidToken           Reason = "InvalidToken"
	ReasonInvalidPart            Reason = "InvalidPart"
	ReasonInvalidPartOrder       Reason = "InvalidPartOrder"
	ReasonEntityTooSmall         Reason = "EntityTooSmall"
	ReasonNotEmpty               Reason = "NotEmpty"
	ReasonDeleteMarker           Reason = "DeleteMarker"
	ReasonVersioningTransition   Reason = "VersioningTransition"
	ReasonConditionalCheckFailed Reason = "ConditionalCheckFailed"
	ReasonStaleReceiptHandle     Reason = "StaleReceiptHandle"
	ReasonInvalidReceiptHandle   Reason = "InvalidReceiptHandle"
	ReasonUnknownOperation       Reason = "UnknownOperation"
	ReasonMalformedInput         Reason = "MalformedInput"
)

// ResourceType names the kind of entity an error refers to.
type ResourceType string

const (
	ResourceBucket       ResourceType = "bucket"
	ResourcePolicy       ResourceType = "policy"
	ResourceObject       ResourceType = "object"
	ResourceVersion      ResourceType = "version"
	ResourceUpload       ResourceType = "upload"
	ResourcePart         ResourceType = "part"
	ResourceTable        ResourceType = "table"
	ResourceItem         ResourceType = "item"
	ResourceQueue        ResourceType = "queue"
	ResourceMessage      ResourceType = "message"
	ResourceTopic        ResourceType = "topic"
	ResourceSubscription ResourceType = "subscription"
	ResourceBlob         ResourceType = "blob"
	ResourceOperation    ResourceType = "operation"
)

// Resource identifies the entity an operation failed on. Container is the
// enclosing bucket, table, queue or topic for child resources.
type Resource struct {
	Type      ResourceType
	Container string
	Name      string
	Version   string
}

func (r Resource) String() string {
	var parts []string
	if r.Container != "" {
		parts = append(parts, r.Container)
	}
	if r.Name != "" {
		parts = append(parts, r.Name)
	}
	s := string(r.Type)
	if len(parts) > 0 {
		s += " " + strings.Join(parts, "/")
	}
	if r.Version != "" {
		s += "@" + r.Version
	}
	return s
}

// Error is the typed error carried by every service operation.
type Error struct {
	Kind     Kind
	Reason   Reason
	Resource Resource
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Resource.Type != "" {
		msg = fmt.Sprintf("%s: %s", e.Resource, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithReason returns a copy of e carrying reason r.
func (e *Error) WithReason(r Reason) *Error {
	c := *e
	c.Reason = r
	return &c
}

func newError(kind Kind, res Resource, format string, args ...any) *Error {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Resource: res, Message: msg}
}

func NotFound(res Resource, format string, args ...any) *Error {
	return newError(KindNotFound, res, format, args...)
}

func AlreadyExists(res Resource, format string, args ...any) *Error {
	return newError(KindAlreadyExists, res, format, args...)
}

func Conflict(res Resource, reason Reason, format string, args ...any) *Error {
	return newError(KindConflict, res, format, args...).WithReason(reason)
}

func InvalidArgument(res Resource, reason Reason, format string, args ...any) *Error {
	return newError(KindInvalidArgument, res, format, args...).WithReason(reason)
}

func PreconditionFailed(res Resource, reason Reason, format string, args ...any) *Error {
	return newError(KindPreconditionFailed, res, format, args...).WithReason(reason)
}

// Canceled reports that the caller's context ended before the operation on
// res could start. The context error stays reachable through errors.Is.
func Canceled(res Resource, err error) *Error {
	e := newError(KindCanceled, res, "request canceled")
	e.Err = err
	return e
}

// Internal wraps an underlying storage failure. A nil err yields nil.
func Internal(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	e := newError(KindInternal, Resource{}, format, args...)
	e.Err = err
	return e
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf classifies err. Errors outside the taxonomy are Internal.
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return KindInternal
}

// ReasonOf returns the Reason of err, or ReasonNone.
func ReasonOf(err error) Reason {
	if ae, ok := As(err); ok {
		return ae.Reason
	}
	return ReasonNone
}

// Is reports whether err is a taxonomy error of kind k.
func Is(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}

// IsReason reports whether err carries reason r.
func IsReason(err error, r Reason) bool {
	return err != nil && ReasonOf(err) == r
}
