package sonar

import (
	"errors"
	"fmt"
)

var (
	// ErrShape matches any ShapeError.
	ErrShape = errors.New("reading does not contain exactly 3 values")
	// ErrParse matches any ParseError.
	ErrParse = errors.New("reading contains a malformed value")

	errNonFinite = errors.New("distance is not finite")
)

// ShapeError reports a reading with the wrong number of values. The cycle
// that produced it is skipped.
type ShapeError struct {
	Got int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("expected %d distances, got %d", SensorCount, e.Got)
}

func (e *ShapeError) Is(target error) bool {
	return target == ErrShape
}

// ParseError reports a token that could not be read as a number.
type ParseError struct {
	Index int
	Token string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid distance %q at position %d: %v", e.Token, e.Index, e.Err)
}

func (e *ParseError) Is(target error) bool {
	return target == ErrParse
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
