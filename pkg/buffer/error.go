package buffer

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/pgexec/pgproto/codes"
	"github.com/pgexec/pgproto/pgerr"
)

// ErrMissingNulTerminator is thrown when no NUL terminator is found when
// interpreting a message property as a string.
var ErrMissingNulTerminator = errors.New("NUL terminator not found")

// NewMissingNulTerminator constructs an error wrapping ErrMissingNulTerminator.
func NewMissingNulTerminator() error {
	return pgerr.New(pgerr.ConnectionFailure, codes.DataCorrupted, ErrMissingNulTerminator)
}

// ErrInsufficientData is thrown when there is insufficient data available
// inside the given message to unmarshal into a given type.
var ErrInsufficientData = errors.New("insufficient data")

// NewInsufficientData constructs an error wrapping ErrInsufficientData.
func NewInsufficientData(length int) error {
	err := fmt.Errorf("length: %d %w", length, ErrInsufficientData)
	return pgerr.New(pgerr.ConnectionFailure, codes.DataCorrupted, err)
}

// MessageSizeExceeded indicates the message size limit has been exceeded.
type MessageSizeExceeded struct {
	Message string
	Size    int
	Max     int
}

func (err MessageSizeExceeded) Error() string { return err.Message }

func (err MessageSizeExceeded) Is(target error) bool {
	return reflect.TypeOf(target) == reflect.TypeOf(err)
}

// NewMessageSizeExceeded constructs an error wrapping MessageSizeExceeded.
func NewMessageSizeExceeded(max, size int) error {
	err := MessageSizeExceeded{
		Message: fmt.Sprintf("message size %d, bigger than maximum allowed message size %d", size, max),
		Size:    size,
		Max:     max,
	}

	return pgerr.New(pgerr.ConnectionFailure, codes.ProgramLimitExceeded, err)
}

// UnwrapMessageSizeExceeded attempts to unwrap the given error as
// MessageSizeExceeded.
func UnwrapMessageSizeExceeded(err error) (result MessageSizeExceeded, _ bool) {
	return result, errors.As(err, &result)
}
