package domain

import (
	"github.com/nialab/neuropipe/pkg/utils"
)

// Project is the archive-side read model: the current subjects, sessions and
// dataset names of one project, as listed by the archive.
//
// It is rebuilt from a live archive query on every pipeline run and never
// cached across runs. Freshness is bought with a full listing each time.
type Project struct {
	Id       string
	Subjects []*Subject

	// names (stems, suffix included) of project-level datasets.
	DatasetNames []string
}

type Subject struct {
	Id       string
	Sessions []*Session

	// names of subject-level summary datasets.
	DatasetNames []string
}

type Session struct {
	Id string

	// names of the datasets this session holds.
	DatasetNames []string

	// back-reference, not owned. Set by the archive when listing.
	Subject *Subject
}

// RestrictSubjects derives a view of the project limited to the subjects the
// filter admits. Subject and session values are shared with the receiver, so
// pointer identity survives the restriction.
func (p *Project) RestrictSubjects(filter ProjectFilter) *Project {
	if filter.SubjectIds == nil {
		return p
	}
	ret := &Project{Id: p.Id, DatasetNames: p.DatasetNames}
	for _, sub := range p.Subjects {
		if filter.AdmitsSubject(sub.Id) {
			ret.Subjects = append(ret.Subjects, sub)
		}
	}
	return ret
}

// AllSessions flattens sessions over every subject, in listing order.
func (p *Project) AllSessions() []*Session {
	sessions := []*Session{}
	for _, sub := range p.Subjects {
		sessions = append(sessions, sub.Sessions...)
	}
	return sessions
}

func (p *Project) Subject(id string) (*Subject, bool) {
	for _, sub := range p.Subjects {
		if sub.Id == id {
			return sub, true
		}
	}
	return nil, false
}

func (p *Project) HasDataset(name string) bool {
	return utils.Anything(p.DatasetNames, func(n string) bool { return n == name })
}

func (s *Subject) HasDataset(name string) bool {
	return utils.Anything(s.DatasetNames, func(n string) bool { return n == name })
}

func (s *Subject) Session(id string) (*Session, bool) {
	for _, ses := range s.Sessions {
		if ses.Id == id {
			return ses, true
		}
	}
	return nil, false
}

func (s *Session) HasDataset(name string) bool {
	return utils.Anything(s.DatasetNames, func(n string) bool { return n == name })
}
