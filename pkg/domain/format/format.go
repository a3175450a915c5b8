// Package format declares data formats and conversions between them.
//
// A Format names how a dataset is stored on disk (extension included).
// A Converter turns a file of one format into another; the Registry finds
// a converter chain between two formats when pipelines and archives
// disagree about storage format.
package format

import (
	"context"
	"fmt"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
)

type Format struct {
	// identifier of the format, unique in a Registry.
	Name string

	// filename extension, dot included. May be empty (e.g. directory formats).
	Extension string

	// true for formats stored as a directory of files (e.g. DICOM series).
	Directory bool
}

func (f Format) String() string {
	return f.Name
}

func (f Format) Equal(other Format) bool {
	return f.Name == other.Name &&
		f.Extension == other.Extension &&
		f.Directory == other.Directory
}

// FileName returns stem with the format's extension appended.
func (f Format) FileName(stem string) string {
	return stem + f.Extension
}

// Converter rewrites the file at src into dest, changing storage format.
//
// src and dest are paths. Implementations wrap external tools or, for
// trivial conversions, plain file rewrites.
type Converter interface {
	From() Format
	To() Format
	Convert(ctx context.Context, src string, dest string) error
}

// FuncConverter adapts a plain function into a Converter.
type FuncConverter struct {
	Src  Format
	Dest Format
	Fn   func(ctx context.Context, src string, dest string) error
}

var _ Converter = FuncConverter{}

func (f FuncConverter) From() Format { return f.Src }

func (f FuncConverter) To() Format { return f.Dest }

func (f FuncConverter) Convert(ctx context.Context, src string, dest string) error {
	return f.Fn(ctx, src, dest)
}

// Registry holds known formats and direct converters between them.
type Registry struct {
	formats    map[string]Format
	converters map[string]map[string]Converter // from -> to -> converter
}

func NewRegistry(formats ...Format) *Registry {
	r := &Registry{
		formats:    map[string]Format{},
		converters: map[string]map[string]Converter{},
	}
	for _, f := range formats {
		r.formats[f.Name] = f
	}
	return r
}

// Register adds a format. Registering the same name twice is an error.
func (r *Registry) Register(f Format) error {
	if _, ok := r.formats[f.Name]; ok {
		return fmt.Errorf("%w: format '%s' is registered already", domerr.ErrUsage, f.Name)
	}
	r.formats[f.Name] = f
	return nil
}

// Get looks a format up by name.
func (r *Registry) Get(name string) (Format, bool) {
	f, ok := r.formats[name]
	return f, ok
}

// RegisterConverter adds a direct conversion edge.
//
// Both endpoint formats must be registered beforehand.
func (r *Registry) RegisterConverter(c Converter) error {
	from, to := c.From(), c.To()
	for _, f := range []Format{from, to} {
		if _, ok := r.formats[f.Name]; !ok {
			return fmt.Errorf("%w: format '%s' is not registered", domerr.ErrUsage, f.Name)
		}
	}
	tos, ok := r.converters[from.Name]
	if !ok {
		tos = map[string]Converter{}
		r.converters[from.Name] = tos
	}
	tos[to.Name] = c
	return nil
}

// Converter returns a converter from one format to another.
//
// When no direct converter is registered, a chain is searched breadth-first
// over registered conversion edges; the result converts via intermediate
// files in the destination's directory. Fails with NoConverterError when no
// path exists.
func (r *Registry) Converter(from Format, to Format) (Converter, error) {
	if from.Name == to.Name {
		return nil, fmt.Errorf(
			"%w: conversion from '%s' to itself is requested", domerr.ErrUsage, from.Name,
		)
	}
	if c, ok := r.converters[from.Name][to.Name]; ok {
		return c, nil
	}

	chain := r.searchChain(from, to)
	if chain == nil {
		return nil, domerr.NoConverterError{From: from.Name, To: to.Name}
	}
	return chainConverter{steps: chain}, nil
}

// breadth-first search over conversion edges. nil when unreachable.
func (r *Registry) searchChain(from Format, to Format) []Converter {
	type path struct {
		at    string
		steps []Converter
	}
	visited := map[string]bool{from.Name: true}
	queue := []path{{at: from.Name}}
	for 0 < len(queue) {
		p := queue[0]
		queue = queue[1:]
		for next, conv := range r.converters[p.at] {
			if visited[next] {
				continue
			}
			visited[next] = true
			steps := append(append([]Converter{}, p.steps...), conv)
			if next == to.Name {
				return steps
			}
			queue = append(queue, path{at: next, steps: steps})
		}
	}
	return nil
}

type chainConverter struct {
	steps []Converter
}

var _ Converter = chainConverter{}

func (c chainConverter) From() Format { return c.steps[0].From() }

func (c chainConverter) To() Format { return c.steps[len(c.steps)-1].To() }

func (c chainConverter) Convert(ctx context.Context, src string, dest string) error {
	cur := src
	for nth, step := range c.steps {
		next := dest
		if nth < len(c.steps)-1 {
			next = fmt.Sprintf("%s.conv%d%s", dest, nth, step.To().Extension)
		}
		if err := step.Convert(ctx, cur, next); err != nil {
			return err
		}
		cur = next
	}
	return nil
}
