package domain

import (
	"context"

	"github.com/nialab/neuropipe/pkg/domain/format"
)

// Reserved pseudo-identifiers under which summary datasets are archived:
// subject-level summaries live in a pseudo-session named SummaryId, and
// project-level summaries under a pseudo-subject/pseudo-session pair.
const SummaryId = "__SUMMARY__"

// ProjectFilter restricts a project listing to a subset of subject and/or
// session ids. Nil slices mean "all".
type ProjectFilter struct {
	SubjectIds []string
	SessionIds []string
}

func (f ProjectFilter) AdmitsSubject(id string) bool {
	return admits(f.SubjectIds, id)
}

func (f ProjectFilter) AdmitsSession(id string) bool {
	return admits(f.SessionIds, id)
}

func admits(ids []string, id string) bool {
	if ids == nil {
		return true
	}
	for _, i := range ids {
		if i == id {
			return true
		}
	}
	return false
}

// SourceSpec tells a source adapter which archived dataset backs which
// pipeline boundary name.
type SourceSpec struct {
	// boundary (spec) name the pipeline knows the dataset by.
	SpecName string

	// stem the dataset is archived under (options suffix included).
	ArchivedName string

	Format       format.Format
	Multiplicity Multiplicity
}

// SinkSpec tells a sink adapter where to store one pipeline output.
//
// All SinkSpecs given to one sink share the same multiplicity.
type SinkSpec struct {
	SpecName     string
	ArchivedName string
	Format       format.Format
}

// Source resolves archived datasets to local file paths for one
// subject/session at execution time.
type Source interface {
	// Fetch returns a path per SpecName for the given subject/session.
	//
	// Subject-level datasets resolve through the subject's summary
	// location, project-level ones through the project summary, whatever
	// sessionId is given.
	Fetch(ctx context.Context, subjectId string, sessionId string) (map[string]string, error)
}

// Sink stores produced files into the archive.
type Sink interface {
	// Store copies the files (keyed by SpecName) into the archive location
	// for the given subject/session.
	//
	// Names expected but absent from files are returned in missing and are
	// not an error: what is present is stored regardless, trading
	// completeness for partial-progress durability.
	Store(ctx context.Context, subjectId string, sessionId string, files map[string]string) (stored []string, missing []string, err error)
}

// Archive is the external storage backend contract: a local directory tree,
// or a remote research-data service, exposed as listing + source + sink.
type Archive interface {
	// Project lists the current subjects/sessions/dataset names of the
	// project, optionally filtered. Synchronous and uncached.
	Project(ctx context.Context, projectId string, filter ProjectFilter) (*Project, error)

	// Source builds an adapter resolving the given datasets at run time.
	Source(ctx context.Context, projectId string, specs []SourceSpec, studyName string) (Source, error)

	// Sink builds an adapter storing outputs of one multiplicity level.
	Sink(ctx context.Context, projectId string, specs []SinkSpec, multiplicity Multiplicity, studyName string, description string) (Sink, error)
}
