package rpc

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownService = errors.New("unknown service")
	ErrEncoding       = errors.New("encoding error")
)

// UnknownServiceError is returned for operation names missing from the catalog.
type UnknownServiceError struct {
	Name string
}

func (e *UnknownServiceError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Name)
}

func (e *UnknownServiceError) Is(target error) bool {
	return target == ErrUnknownService
}

// EncodingError reports a property mapping that does not fit a message schema.
type EncodingError struct {
	Message string
	// Field is the dotted path of the offending field, empty for the message itself.
	Field  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("encode %s: %s", e.Message, e.Reason)
	}
	return fmt.Sprintf("encode %s: field %q: %s", e.Message, e.Field, e.Reason)
}

func (e *EncodingError) Is(target error) bool {
	return target == ErrEncoding
}
