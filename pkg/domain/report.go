package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Report summarizes what one pipeline run actually sank into the archive.
//
// When a pipeline is a prerequisite of another, its report is the
// synchronization hand-off: the dependent plan only executes its own units
// after every prerequisite report has been produced.
type Report struct {
	RunId    string
	Pipeline string

	// true when the run was a no-op: every requested output was present.
	Skipped bool

	// (subject, session) pairs whose session-level outputs were stored.
	Sessions []Unit

	// subjects whose subject-level summaries were stored.
	Subjects []string

	// true when project-level outputs were stored.
	Project bool

	// reports of prerequisite pipeline runs, innermost first.
	Prerequisites []*Report
}

func newReport(pipeline string) *Report {
	return &Report{RunId: uuid.NewString(), Pipeline: pipeline}
}

func (r *Report) String() string {
	if r.Skipped {
		return fmt.Sprintf("Report(%s: skipped)", r.Pipeline)
	}
	return fmt.Sprintf(
		"Report(%s: %d sessions, %d subjects, project=%t)",
		r.Pipeline, len(r.Sessions), len(r.Subjects), r.Project,
	)
}
