package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseLayout     Phase = "layout"     // layout and root shape construction
	PhaseAllocate   Phase = "allocate"   // storage location allocation
	PhaseTransition Phase = "transition" // shape transitions
	PhaseAccess     Phase = "access"     // property reads and writes
	PhaseAssumption Phase = "assumption" // assumption checks
	PhasePointer    Phase = "pointer"    // foreign memory loads and stores
	PhaseSchema     Phase = "schema"     // WIT schema mapping
)

// Kind categorizes the error
type Kind string

const (
	KindNoSuchProperty    Kind = "no_such_property"
	KindTypeMismatch      Kind = "type_mismatch"
	KindInvalidAssumption Kind = "invalid_assumption"
	KindLayoutExhausted   Kind = "layout_exhausted"
	KindInvalidInput      Kind = "invalid_input"
	KindReadOnly          Kind = "read_only"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindUnsupported       Kind = "unsupported"
	KindNilPointer        Kind = "nil_pointer"
)

// Sentinels match any error of the same Kind regardless of Phase.
var (
	ErrNoSuchProperty    = &Error{Kind: KindNoSuchProperty}
	ErrTypeMismatch      = &Error{Kind: KindTypeMismatch}
	ErrInvalidAssumption = &Error{Kind: KindInvalidAssumption}
	ErrLayoutExhausted   = &Error{Kind: KindLayoutExhausted}
	ErrReadOnly          = &Error{Kind: KindReadOnly}
)

// Error is the structured error type used throughout the object model
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Key    string
	Want   string
	Got    string
	Detail string
	Path   []string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, "."))
	}

	if e.Key != "" {
		b.WriteString(" property ")
		b.WriteString(e.Key)
	}

	if e.Want != "" || e.Got != "" {
		b.WriteString(": ")
		if e.Want != "" && e.Got != "" {
			b.WriteString("want ")
			b.WriteString(e.Want)
			b.WriteString(", got ")
			b.WriteString(e.Got)
		} else if e.Want != "" {
			b.WriteString("want ")
			b.WriteString(e.Want)
		} else {
			b.WriteString("got ")
			b.WriteString(e.Got)
		}
	}

	if e.Detail != "" {
		if e.Want != "" || e.Got != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a Phase
// matches on Kind alone.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		if t.Phase == "" {
			return e.Kind == t.Kind
		}
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// IsKind reports whether any error in err's chain is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if errors.As(err, &e) {
			if e.Kind == kind {
				return true
			}
			err = e.Cause
			continue
		}
		return false
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Path sets the schema field path
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Key sets the property key, formatted with %v
func (b *Builder) Key(key any) *Builder {
	b.err.Key = fmt.Sprint(key)
	return b
}

// Want sets the expected representation
func (b *Builder) Want(t string) *Builder {
	b.err.Want = t
	return b
}

// Got sets the actual representation
func (b *Builder) Got(t string) *Builder {
	b.err.Got = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// NoSuchProperty creates an absent-property error
func NoSuchProperty(phase Phase, key any) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindNoSuchProperty,
		Key:   fmt.Sprint(key),
	}
}

// TypeMismatch creates a type mismatch error. A nil key leaves Key empty
// so the caller can attach it later.
func TypeMismatch(phase Phase, key any, want, got string) *Error {
	e := &Error{
		Phase: phase,
		Kind:  KindTypeMismatch,
		Want:  want,
		Got:   got,
	}
	if key != nil {
		e.Key = fmt.Sprint(key)
	}
	return e
}

// InvalidAssumption creates an error for a cached path whose assumption was invalidated
func InvalidAssumption(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidAssumption,
		Detail: fmt.Sprintf("assumption %q no longer holds", name),
	}
}

// LayoutExhausted creates a storage exhaustion error
func LayoutExhausted(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindLayoutExhausted,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// ReadOnly creates an error for writes to a read-only property
func ReadOnly(phase Phase, key any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindReadOnly,
		Key:    fmt.Sprint(key),
		Detail: "property is read-only",
	}
}

// OutOfBounds creates an out of bounds error
func OutOfBounds(phase Phase, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("index %d out of bounds (length %d)", index, length),
		Value:  index,
	}
}

// NilPointer creates a nil pointer error
func NilPointer(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilPointer,
		Detail: fmt.Sprintf("%s is nil", what),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
