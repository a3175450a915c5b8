// Package inventory carries project listings over the wire.
package inventory

import (
	"github.com/nialab/neuropipe/pkg/domain"
	"github.com/nialab/neuropipe/pkg/utils"
	"github.com/nialab/neuropipe/pkg/utils/cmp"
)

type Project struct {
	Id           string    `json:"id"`
	Subjects     []Subject `json:"subjects"`
	DatasetNames []string  `json:"datasetNames,omitempty"`
}

func (p Project) Equal(o Project) bool {
	return p.Id == o.Id &&
		cmp.SliceEqWith(p.Subjects, o.Subjects, Subject.Equal) &&
		cmp.SliceContentEq(p.DatasetNames, o.DatasetNames)
}

type Subject struct {
	Id           string    `json:"id"`
	Sessions     []Session `json:"sessions"`
	DatasetNames []string  `json:"datasetNames,omitempty"`
}

func (s Subject) Equal(o Subject) bool {
	return s.Id == o.Id &&
		cmp.SliceEqWith(s.Sessions, o.Sessions, Session.Equal) &&
		cmp.SliceContentEq(s.DatasetNames, o.DatasetNames)
}

type Session struct {
	Id           string   `json:"id"`
	DatasetNames []string `json:"datasetNames,omitempty"`
}

func (s Session) Equal(o Session) bool {
	return s.Id == o.Id && cmp.SliceContentEq(s.DatasetNames, o.DatasetNames)
}

// FromDomain flattens the read model of the engine for transport.
func FromDomain(p *domain.Project) Project {
	return Project{
		Id: p.Id,
		Subjects: utils.Map(p.Subjects, func(sub *domain.Subject) Subject {
			return Subject{
				Id: sub.Id,
				Sessions: utils.Map(sub.Sessions, func(ses *domain.Session) Session {
					return Session{Id: ses.Id, DatasetNames: ses.DatasetNames}
				}),
				DatasetNames: sub.DatasetNames,
			}
		}),
		DatasetNames: p.DatasetNames,
	}
}

// ToDomain rebuilds the engine read model, wiring session back-references.
func (p Project) ToDomain() *domain.Project {
	ret := &domain.Project{Id: p.Id, DatasetNames: p.DatasetNames}
	for _, sub := range p.Subjects {
		dsub := &domain.Subject{Id: sub.Id, DatasetNames: sub.DatasetNames}
		for _, ses := range sub.Sessions {
			dsub.Sessions = append(dsub.Sessions, &domain.Session{
				Id:           ses.Id,
				DatasetNames: ses.DatasetNames,
				Subject:      dsub,
			})
		}
		ret.Subjects = append(ret.Subjects, dsub)
	}
	return ret
}
