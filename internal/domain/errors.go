package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	// ErrUnsafePath indicates a path that resolves outside its root
	ErrUnsafePath = errors.New("path escapes workspace root")

	// ErrTooLarge indicates retrieved or extracted content exceeded its bound
	ErrTooLarge = errors.New("content exceeds size limit")

	// ErrTimeout indicates a timeout occurred
	ErrTimeout = errors.New("timeout")

	// ErrRateLimited indicates rate limiting was encountered
	ErrRateLimited = errors.New("rate limited")

	// ErrInvalidURL indicates an invalid URL was provided
	ErrInvalidURL = errors.New("invalid URL")

	// ErrUnknownSource indicates the source kind could not be determined
	ErrUnknownSource = errors.New("unknown source kind")

	// ErrBinaryFile indicates a file failed text decoding
	ErrBinaryFile = errors.New("binary file")

	// ErrWorkspaceDisposed indicates a workspace was used after Destroy
	ErrWorkspaceDisposed = errors.New("workspace already disposed")

	// ErrCloneFailed indicates the clone tool reported failure
	ErrCloneFailed = errors.New("clone failed")
)

// Kind classifies pipeline failures
type Kind string

const (
	KindWorkspaceCreateFailed  Kind = "workspace_create_failed"
	KindRetrievalFailed        Kind = "retrieval_failed"
	KindRetrievalTooLarge      Kind = "retrieval_too_large"
	KindRetrievalTimeout       Kind = "retrieval_timeout"
	KindUnsafeArchiveEntry     Kind = "unsafe_archive_entry"
	KindUnsafeCloneDestination Kind = "unsafe_clone_destination"
	KindExtractionFailed       Kind = "extraction_failed"
	KindTraversalError         Kind = "traversal_error"
	KindScanFileError          Kind = "scan_file_error"
	KindInvalidRequest         Kind = "invalid_request"
	KindCancelled              Kind = "cancelled"
	KindInternal               Kind = "internal"
)

// Stage names the pipeline stage a failure belongs to
type Stage string

const (
	StageValidate  Stage = "validate"
	StageWorkspace Stage = "workspace"
	StageRetrieve  Stage = "retrieve"
	StageExtract   Stage = "extract"
	StageTraverse  Stage = "traverse"
	StageScan      Stage = "scan"
)

// Stage returns the stage a kind is raised from
func (k Kind) Stage() Stage {
	switch k {
	case KindWorkspaceCreateFailed:
		return StageWorkspace
	case KindRetrievalFailed, KindRetrievalTooLarge, KindRetrievalTimeout, KindUnsafeCloneDestination:
		return StageRetrieve
	case KindUnsafeArchiveEntry, KindExtractionFailed:
		return StageExtract
	case KindTraversalError:
		return StageTraverse
	case KindScanFileError:
		return StageScan
	case KindInvalidRequest:
		return StageValidate
	default:
		return ""
	}
}

// Fatal reports whether the kind aborts the pipeline.
// Traversal and scan errors are recorded as diagnostics instead.
func (k Kind) Fatal() bool {
	return k != KindTraversalError && k != KindScanFileError
}

// IsUserError reports whether the kind is caused by caller input
// rather than by a transient or server-side condition.
func (k Kind) IsUserError() bool {
	switch k {
	case KindInvalidRequest, KindUnsafeArchiveEntry, KindUnsafeCloneDestination, KindRetrievalTooLarge:
		return true
	}
	return false
}

// PipelineError is the error returned by every pipeline stage
type PipelineError struct {
	Kind  Kind
	Stage Stage
	Path  string // entry, file or destination involved, if any
	Err   error
}

func (e *PipelineError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("%s (%s): %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// NewPipelineError creates a new PipelineError, deriving the stage from the kind
func NewPipelineError(kind Kind, path string, err error) *PipelineError {
	return &PipelineError{
		Kind:  kind,
		Stage: kind.Stage(),
		Path:  path,
		Err:   err,
	}
}

// KindOf returns the kind of the first PipelineError in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// FetchError represents an error during fetching
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch error for %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch error for %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError creates a new FetchError
func NewFetchError(url string, statusCode int, err error) *FetchError {
	return &FetchError{
		URL:        url,
		StatusCode: statusCode,
		Err:        err,
	}
}

// RetryableError indicates an error that can be retried
type RetryableError struct {
	Err        error
	RetryAfter int // Seconds to wait before retry, 0 if unknown
}

func (e *RetryableError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("retryable error (retry after %ds): %v", e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	if errors.Is(err, ErrTooLarge) {
		return false
	}

	var retryable *RetryableError
	if errors.As(err, &retryable) {
		return true
	}

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		switch fetchErr.StatusCode {
		case 429, 503, 502, 504:
			return true
		}
		// Cloudflare errors
		if fetchErr.StatusCode >= 520 && fetchErr.StatusCode <= 530 {
			return true
		}
	}

	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrTimeout)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// NewValidationError creates a new ValidationError
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
