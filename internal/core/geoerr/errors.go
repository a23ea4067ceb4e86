// Package geoerr defines the error kinds returned by the query engine.
//
// Every error carries the parameter it concerns so callers can surface
// it without re-parsing the message. Use errors.Is against the Err*
// sentinels to branch on kind.
package geoerr

import (
	"errors"
	"fmt"
)

var (
	ErrMissingAxis        = errors.New("missing axis")
	ErrCoordinateNotFound = errors.New("coordinate not found")
	ErrInvalidRange       = errors.New("invalid range")
	ErrEmptySelection     = errors.New("empty selection")
	ErrTooManyPoints      = errors.New("too many points")
	ErrUnsupportedMethod  = errors.New("unsupported method")
	ErrConfiguration      = errors.New("configuration error")
	ErrDataUnavailable    = errors.New("data unavailable")
)

type Error struct {
	Kind   error
	Param  string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Param != "" {
		msg += " [" + e.Param + "]"
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Is(target error) bool { return target == e.Kind }

func (e *Error) Unwrap() error { return e.Err }

func newf(kind error, param, format string, args ...any) error {
	return &Error{Kind: kind, Param: param, Detail: fmt.Sprintf(format, args...)}
}

func MissingAxis(axis string) error {
	return newf(ErrMissingAxis, axis, "dataset has no %q axis", axis)
}

func CoordinateNotFound(param, format string, args ...any) error {
	return newf(ErrCoordinateNotFound, param, format, args...)
}

func InvalidRange(param, format string, args ...any) error {
	return newf(ErrInvalidRange, param, format, args...)
}

func EmptySelection(param, format string, args ...any) error {
	return newf(ErrEmptySelection, param, format, args...)
}

func UnsupportedMethod(param, method string) error {
	return newf(ErrUnsupportedMethod, param, "method %q is not supported", method)
}

func Configuration(param, format string, args ...any) error {
	return newf(ErrConfiguration, param, format, args...)
}

// DataUnavailable wraps a storage failure.
func DataUnavailable(param string, err error) error {
	return &Error{Kind: ErrDataUnavailable, Param: param, Err: err}
}

// TooManyPointsError reports a selection whose estimated size exceeds the budget.
type TooManyPointsError struct {
	Estimated int64
	Limit     int64
}

func (e *TooManyPointsError) Error() string {
	return fmt.Sprintf("too many points [max_points]: selection has %d points, limit is %d; narrow the query or set override", e.Estimated, e.Limit)
}

func (e *TooManyPointsError) Is(target error) bool { return target == ErrTooManyPoints }

var kinds = []struct {
	err  error
	name string
}{
	{ErrMissingAxis, "missing_axis"},
	{ErrCoordinateNotFound, "coordinate_not_found"},
	{ErrInvalidRange, "invalid_range"},
	{ErrEmptySelection, "empty_selection"},
	{ErrTooManyPoints, "too_many_points"},
	{ErrUnsupportedMethod, "unsupported_method"},
	{ErrConfiguration, "configuration"},
	{ErrDataUnavailable, "data_unavailable"},
}

// KindOf returns a stable snake_case name for err's kind, or "internal".
func KindOf(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
