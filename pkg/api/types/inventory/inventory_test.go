package inventory_test

import (
	"encoding/json"
	"testing"

	"github.com/nialab/neuropipe/pkg/api/types/inventory"
	"github.com/nialab/neuropipe/pkg/domain"
	"github.com/nialab/neuropipe/pkg/utils/try"
)

func sampleProject() inventory.Project {
	return inventory.Project{
		Id: "proj",
		Subjects: []inventory.Subject{
			{
				Id: "S01",
				Sessions: []inventory.Session{
					{Id: "visit1", DatasetNames: []string{"t1", "dwi"}},
					{Id: "visit2", DatasetNames: []string{"t1"}},
				},
				DatasetNames: []string{"study_stats"},
			},
			{
				Id:       "S02",
				Sessions: []inventory.Session{{Id: "visit1"}},
			},
		},
		DatasetNames: []string{"study_report"},
	}
}

func TestProject(t *testing.T) {
	t.Run("it round-trips through the domain model", func(t *testing.T) {
		wire := sampleProject()
		back := inventory.FromDomain(wire.ToDomain())
		if !wire.Equal(back) {
			t.Errorf("(actual, expected) = (%+v, %+v)", back, wire)
		}
	})

	t.Run("ToDomain wires session back-references", func(t *testing.T) {
		project := sampleProject().ToDomain()
		for _, sub := range project.Subjects {
			for _, ses := range sub.Sessions {
				if ses.Subject != sub {
					t.Errorf("session %s of %s does not point back at its subject", ses.Id, sub.Id)
				}
			}
		}
	})

	t.Run("it round-trips through json", func(t *testing.T) {
		wire := sampleProject()
		encoded := try.To(json.Marshal(wire)).OrFatal(t)
		decoded := inventory.Project{}
		if err := json.Unmarshal(encoded, &decoded); err != nil {
			t.Fatal(err)
		}
		if !wire.Equal(decoded) {
			t.Errorf("(actual, expected) = (%+v, %+v)", decoded, wire)
		}
	})

	t.Run("equality ignores dataset name order but not subject order", func(t *testing.T) {
		a := inventory.Project{Id: "p", DatasetNames: []string{"x", "y"}}
		b := inventory.Project{Id: "p", DatasetNames: []string{"y", "x"}}
		if !a.Equal(b) {
			t.Error("dataset name order should not matter")
		}

		c := inventory.Project{Id: "p", Subjects: []inventory.Subject{{Id: "S01"}, {Id: "S02"}}}
		d := inventory.Project{Id: "p", Subjects: []inventory.Subject{{Id: "S02"}, {Id: "S01"}}}
		if c.Equal(d) {
			t.Error("subject order should matter")
		}
	})
}

func TestFromDomain(t *testing.T) {
	t.Run("it flattens the pointered read model", func(t *testing.T) {
		sub := &domain.Subject{Id: "S01", DatasetNames: []string{"study_stats"}}
		sub.Sessions = []*domain.Session{
			{Id: "visit1", DatasetNames: []string{"t1"}, Subject: sub},
		}
		project := &domain.Project{
			Id:           "proj",
			Subjects:     []*domain.Subject{sub},
			DatasetNames: []string{"study_report"},
		}

		actual := inventory.FromDomain(project)
		expected := inventory.Project{
			Id: "proj",
			Subjects: []inventory.Subject{
				{
					Id:           "S01",
					Sessions:     []inventory.Session{{Id: "visit1", DatasetNames: []string{"t1"}}},
					DatasetNames: []string{"study_stats"},
				},
			},
			DatasetNames: []string{"study_report"},
		}
		if !actual.Equal(expected) {
			t.Errorf("(actual, expected) = (%+v, %+v)", actual, expected)
		}
	})
}
