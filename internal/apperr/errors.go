package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrDuplicateContent  = errors.New("duplicate content")
	ErrDanglingReference = errors.New("dangling reference")
	ErrMissingTarget     = errors.New("missing target")
	ErrUnknownOperation  = errors.New("unknown operation")
	ErrEmbeddingFailure  = errors.New("embedding failure")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrNoteNotFound      = errors.New("note not found")
)

// Error carries an error kind together with the identifiers needed to
// report it at a boundary.
type Error struct {
	Kind      error
	NoteID    string
	SourceID  string
	TargetID  string
	Operation string
	Err       error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())

	var details []string
	if e.NoteID != "" {
		details = append(details, "note_id="+e.NoteID)
	}
	if e.SourceID != "" || e.TargetID != "" {
		details = append(details, fmt.Sprintf("edge=%s->%s", e.SourceID, e.TargetID))
	}
	if e.Operation != "" {
		details = append(details, "operation="+e.Operation)
	}
	if len(details) > 0 {
		b.WriteString(" (" + strings.Join(details, ", ") + ")")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func DuplicateContent(noteID, contentHash string) error {
	return &Error{Kind: ErrDuplicateContent, NoteID: noteID, Err: fmt.Errorf("content hash %s already stored", contentHash)}
}

func DanglingReference(sourceID, targetID string) error {
	return &Error{Kind: ErrDanglingReference, SourceID: sourceID, TargetID: targetID}
}

func MissingTarget(operation string) error {
	return &Error{Kind: ErrMissingTarget, Operation: operation, Err: errors.New("node_id is required")}
}

func UnknownOperation(operation string) error {
	return &Error{Kind: ErrUnknownOperation, Operation: operation}
}

func NoteNotFound(noteID string) error {
	return &Error{Kind: ErrNoteNotFound, NoteID: noteID}
}

func EmbeddingFailure(err error) error {
	return &Error{Kind: ErrEmbeddingFailure, Err: err}
}

func UpstreamTimeout(operation string, err error) error {
	return &Error{Kind: ErrUpstreamTimeout, Operation: operation, Err: err}
}

// KindOf returns the taxonomy kind of err, or nil when err is not classified.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrDuplicateContent,
		ErrDanglingReference,
		ErrMissingTarget,
		ErrUnknownOperation,
		ErrEmbeddingFailure,
		ErrUpstreamTimeout,
		ErrNoteNotFound,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code is the stable snake_case name of a kind for API responses.
func Code(err error) string {
	kind := KindOf(err)
	if kind == nil {
		return "internal_error"
	}
	return strings.ReplaceAll(kind.Error(), " ", "_")
}
