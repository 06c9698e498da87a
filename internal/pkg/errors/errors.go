package errors

import (
	"errors"
	"fmt"
)

var (
	ErrMissingInput      = errors.New("missing input")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrIOFailure         = errors.New("io failure")
	ErrProcessingFailed  = errors.New("file processing failed")
	ErrIncompleteUpload  = errors.New("incomplete upload")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrIndexWrite        = errors.New("index write failure")
	ErrInvalidQuery      = errors.New("invalid query")
)

// IncompleteUploadError reports the lowest chunk index absent at merge time.
type IncompleteUploadError struct {
	MissingIndex int
}

func (e *IncompleteUploadError) Error() string {
	return fmt.Sprintf("missing chunk %d, upload incomplete", e.MissingIndex)
}

func (e *IncompleteUploadError) Is(target error) bool {
	return target == ErrIncompleteUpload
}

type UnsupportedFormatError struct {
	Extension string
}

func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.Extension)
}

func (e *UnsupportedFormatError) Is(target error) bool {
	return target == ErrUnsupportedFormat
}

// IndexWriteError carries how many records reached the index before Err.
type IndexWriteError struct {
	Written int
	Err     error
}

func (e *IndexWriteError) Error() string {
	return fmt.Sprintf("index write failed after %d records: %v", e.Written, e.Err)
}

func (e *IndexWriteError) Unwrap() error {
	return e.Err
}

func (e *IndexWriteError) Is(target error) bool {
	return target == ErrIndexWrite
}

type InvalidQueryError struct {
	Pos    int
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query at %d: %s", e.Pos, e.Reason)
}

func (e *InvalidQueryError) Is(target error) bool {
	return target == ErrInvalidQuery
}

func Invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}

func Missingf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMissingInput, fmt.Sprintf(format, args...))
}

func IOf(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %w", ErrIOFailure, fmt.Sprintf(format, args...), err)
}

func MissingIndex(err error) (int, bool) {
	var target *IncompleteUploadError
	if errors.As(err, &target) {
		return target.MissingIndex, true
	}
	return 0, false
}

func WrittenCount(err error) (int, bool) {
	var target *IndexWriteError
	if errors.As(err, &target) {
		return target.Written, true
	}
	return 0, false
}

func Processingf(err error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %w", ErrProcessingFailed, fmt.Sprintf(format, args...), err)
}
