// Package errors declares the error taxonomy of the orchestration core.
//
// Errors raised while *deciding* what to run (unknown names, unwired ports,
// missing acquired data, absent converters, dependency cycles) are meant to
// surface before any compute is attempted. Each concrete error type unwraps
// to one of the sentinels below, so callers can branch with errors.Is.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// a name does not match any declared data spec.
	ErrUnknownName = errors.New("unknown data name")

	// construction-time misuse of the pipeline/study API.
	ErrUsage = errors.New("usage error")

	// an acquired data spec is requested but no input was supplied.
	ErrMissingDataset = errors.New("missing dataset")

	// no conversion path between two data formats.
	ErrNoConverter = errors.New("no converter")

	// prerequisite resolution revisited a pipeline already being resolved.
	ErrCyclicDependency = errors.New("cyclic pipeline dependency")
)

// a name was used which no data spec of the study declares.
type NameError struct {
	Name  string
	Study string
	Known []string
}

var _ error = NameError{}

func (e NameError) Error() string {
	return fmt.Sprintf(
		"'%s' is not a recognised data name for study '%s' (declared: '%s')",
		e.Name, e.Study, strings.Join(e.Known, "', '"),
	)
}

func (e NameError) Unwrap() error {
	return ErrUnknownName
}

// an acquired data spec was requested but never supplied to the study.
type MissingDatasetError struct {
	Name string

	// pipeline which needed the dataset. May be empty when the dataset
	// was requested directly.
	Pipeline string
}

var _ error = MissingDatasetError{}

func (e MissingDatasetError) Error() string {
	msg := fmt.Sprintf(
		"acquired (non-generated) dataset '%s' is required but was not supplied when the study was initiated",
		e.Name,
	)
	if e.Pipeline != "" {
		msg += fmt.Sprintf(", which is required for pipeline '%s'", e.Pipeline)
	}
	return msg
}

func (e MissingDatasetError) Unwrap() error {
	return ErrMissingDataset
}

// declared pipeline boundary names which were never wired to a graph port.
type UnconnectedError struct {
	Pipeline string
	Inputs   []string
	Outputs  []string
}

var _ error = UnconnectedError{}

func (e UnconnectedError) Error() string {
	parts := []string{}
	if 0 < len(e.Inputs) {
		parts = append(parts, fmt.Sprintf("inputs '%s'", strings.Join(e.Inputs, "', '")))
	}
	if 0 < len(e.Outputs) {
		parts = append(parts, fmt.Sprintf("outputs '%s'", strings.Join(e.Outputs, "', '")))
	}
	return fmt.Sprintf(
		"pipeline '%s' is not fully connected: %s",
		e.Pipeline, strings.Join(parts, " and "),
	)
}

func (e UnconnectedError) Unwrap() error {
	return ErrUsage
}

// no converter chain is registered between two formats.
type NoConverterError struct {
	From string
	To   string
}

var _ error = NoConverterError{}

func (e NoConverterError) Error() string {
	return fmt.Sprintf("no converter is registered from format '%s' to '%s'", e.From, e.To)
}

func (e NoConverterError) Unwrap() error {
	return ErrNoConverter
}

// prerequisite resolution found itself again on its own call stack.
type CyclicDependencyError struct {
	// pipeline identities from the outermost request down to the repeat.
	Stack []string
}

var _ error = CyclicDependencyError{}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf(
		"pipelines depend on each other cyclically: %s",
		strings.Join(e.Stack, " -> "),
	)
}

func (e CyclicDependencyError) Unwrap() error {
	return ErrCyclicDependency
}
