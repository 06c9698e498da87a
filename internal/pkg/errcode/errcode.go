package errcode

const (
	ErrUnknown = 10000000 + iota
	ErrInvalid
	ErrMissingInput
	ErrIncompleteUpload
	ErrUnsupportedFormat
	ErrIndexWrite
	ErrInvalidQuery
	ErrIOFailure
	ErrProcessingFailed
	ErrInternal
	ErrEmbedUnavailable
)
