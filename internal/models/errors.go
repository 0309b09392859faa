package models

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a gene task failed.
type ErrorKind string

const (
	ErrorKindNetwork   ErrorKind = "network_error"
	ErrorKindRateLimit ErrorKind = "rate_limited"
	ErrorKindMalformed ErrorKind = "malformed_response"
	ErrorKindNotFound  ErrorKind = "not_found"
	ErrorKindCancelled ErrorKind = "cancelled"
	ErrorKindInternal  ErrorKind = "internal"
)

// Retriable reports whether a later attempt may succeed.
func (k ErrorKind) Retriable() bool {
	return k == ErrorKindNetwork || k == ErrorKindRateLimit
}

// FailureRecord describes a failed gene task.
type FailureRecord struct {
	Gene      string    `json:"gene"`
	Kind      ErrorKind `json:"kind"`
	Detail    string    `json:"detail"`
	Retriable bool      `json:"retriable"`
}

// TaskError is a classified error produced while analyzing a gene.
type TaskError struct {
	Kind ErrorKind
	Err  error
}

// NewTaskError wraps err with kind.
func NewTaskError(kind ErrorKind, err error) *TaskError {
	return &TaskError{Kind: kind, Err: err}
}

// Errorf builds a TaskError from a format string.
func Errorf(kind ErrorKind, format string, args ...any) *TaskError {
	return &TaskError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func (e *TaskError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retriable reports whether the error kind is transient.
func (e *TaskError) Retriable() bool {
	return e.Kind.Retriable()
}

// KindOf returns the ErrorKind carried by err.
// Context errors map to cancelled or network_error, anything else to internal.
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ErrorKindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindNetwork
	}
	return ErrorKindInternal
}

// NewFailureRecord classifies err into a FailureRecord for gene.
func NewFailureRecord(gene string, err error) *FailureRecord {
	kind := KindOf(err)
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	return &FailureRecord{
		Gene:      gene,
		Kind:      kind,
		Detail:    detail,
		Retriable: kind.Retriable(),
	}
}
