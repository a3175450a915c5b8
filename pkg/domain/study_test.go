package domain_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nialab/neuropipe/pkg/domain"
	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/utils/try"
)

func TestSchema(t *testing.T) {
	t.Run("declaring a spec name twice is rejected", func(t *testing.T) {
		_, err := domain.NewSchema(
			domain.DatasetSpec{Name: "x", Format: txt, Multiplicity: domain.PerSession},
			domain.DatasetSpec{Name: "x", Format: txt, Multiplicity: domain.PerSubject},
		)
		if !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("an invalid multiplicity is rejected", func(t *testing.T) {
		_, err := domain.NewSchema(
			domain.DatasetSpec{Name: "x", Format: txt, Multiplicity: "per_galaxy"},
		)
		if !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("registering a builder name twice is rejected", func(t *testing.T) {
		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "a", Format: txt, Multiplicity: domain.PerSession},
			domain.DatasetSpec{Name: "b", Format: txt, Multiplicity: domain.PerSession, Pipeline: "p"},
		)).OrFatal(t)
		if err := schema.OnPipeline("p", onePipelineBuilder("p", "a", "b")); err != nil {
			t.Fatal(err)
		}
		if err := schema.OnPipeline("p", onePipelineBuilder("p", "a", "b")); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("Extend overrides same-named specs and appends new ones", func(t *testing.T) {
		base := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "a", Format: txt, Multiplicity: domain.PerSession},
			domain.DatasetSpec{Name: "b", Format: txt, Multiplicity: domain.PerSession, Pipeline: "p"},
		)).OrFatal(t)
		if err := base.OnPipeline("p", onePipelineBuilder("p", "a", "b")); err != nil {
			t.Fatal(err)
		}

		ext := try.To(domain.Extend(base,
			domain.DatasetSpec{Name: "b", Format: txt, Multiplicity: domain.PerSubject, Pipeline: "p"},
			domain.DatasetSpec{Name: "c", Format: txt, Multiplicity: domain.PerSession},
		)).OrFatal(t)

		spec, ok := ext.Spec("b")
		if !ok || spec.SpecMultiplicity() != domain.PerSubject {
			t.Errorf("override should replace the base spec: %+v", spec)
		}
		if _, ok := ext.Spec("c"); !ok {
			t.Errorf("new spec should be appended")
		}

		// base is untouched
		spec, _ = base.Spec("b")
		if spec.SpecMultiplicity() != domain.PerSession {
			t.Errorf("extending should not mutate the base schema")
		}
	})
}

func TestStudy_Dataset(t *testing.T) {
	ctx := context.Background()

	newStudy := func(t *testing.T, inputs map[string]domain.Dataset) *domain.Study {
		t.Helper()
		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "raw", Format: txt, Multiplicity: domain.PerSession},
			domain.DatasetSpec{Name: "cooked", Format: txt, Multiplicity: domain.PerSession, Pipeline: "cook"},
		)).OrFatal(t)
		if err := schema.OnPipeline("cook", onePipelineBuilder("cook", "raw", "cooked")); err != nil {
			t.Fatal(err)
		}
		return try.To(domain.NewStudy(
			ctx, "mystudy", "proj", newMemArchive(), schema, inputs,
			domain.WithLogger(quiet()),
		)).OrFatal(t)
	}

	t.Run("a supplied input resolves to itself", func(t *testing.T) {
		st := newStudy(t, map[string]domain.Dataset{
			"raw": {Name: "scanner_output", Format: txt},
		})
		ds := try.To(st.Dataset("raw")).OrFatal(t)
		if ds.Name != "scanner_output" || ds.Processed {
			t.Errorf("input should win: %+v", ds)
		}
		if ds.ArchivedName(domain.Options{"k": 1}) != "scanner_output" {
			t.Errorf("acquired data never carries an options suffix")
		}
		if ds.Multiplicity != domain.PerSession {
			t.Errorf("multiplicity should be filled from the spec: %s", ds.Multiplicity)
		}
	})

	t.Run("a generated spec resolves to a study-prefixed dataset", func(t *testing.T) {
		st := newStudy(t, nil)
		ds := try.To(st.Dataset("cooked")).OrFatal(t)
		if ds.Name != "mystudy_cooked" || !ds.Processed || ds.Pipeline != "cook" {
			t.Errorf("generated dataset is resolved wrongly: %+v", ds)
		}
		if got := ds.ArchivedName(domain.Options{"heat": 7}); got != "mystudy_cooked__heat_7" {
			t.Errorf("generated data carries the options suffix, got %s", got)
		}
	})

	t.Run("an unsupplied acquired spec is a missing dataset", func(t *testing.T) {
		st := newStudy(t, nil)
		_, err := st.Dataset("raw")
		if !errors.Is(err, domerr.ErrMissingDataset) {
			t.Errorf("expected missing dataset error, got %v", err)
		}
	})

	t.Run("an unknown name is a name error listing declared specs", func(t *testing.T) {
		st := newStudy(t, nil)
		_, err := st.Dataset("nonsense")
		if !errors.Is(err, domerr.ErrUnknownName) {
			t.Fatalf("expected unknown-name error, got %v", err)
		}
		var nameErr domerr.NameError
		if !errors.As(err, &nameErr) || len(nameErr.Known) != 2 {
			t.Errorf("error should carry the declared spec names: %+v", err)
		}
	})

	t.Run("supplying an input for an undeclared spec fails construction", func(t *testing.T) {
		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "raw", Format: txt, Multiplicity: domain.PerSession},
		)).OrFatal(t)
		_, err := domain.NewStudy(
			ctx, "mystudy", "proj", newMemArchive(), schema,
			map[string]domain.Dataset{"unheard_of": {Name: "x", Format: txt}},
			domain.WithLogger(quiet()),
		)
		if !errors.Is(err, domerr.ErrUnknownName) {
			t.Errorf("expected unknown-name error, got %v", err)
		}
	})

	t.Run("a generated spec naming an unregistered builder fails construction", func(t *testing.T) {
		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "cooked", Format: txt, Multiplicity: domain.PerSession, Pipeline: "cook"},
		)).OrFatal(t)
		_, err := domain.NewStudy(
			ctx, "mystudy", "proj", newMemArchive(), schema, nil,
			domain.WithLogger(quiet()),
		)
		if !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})
}

func TestStudy_Matches(t *testing.T) {
	ctx := context.Background()

	t.Run("a pattern match binds an archived dataset as input", func(t *testing.T) {
		arch := newMemArchive()
		arch.Put("proj", "A", "s1", "t1_mprage_32ch", "x")
		arch.Put("proj", "A", "s1", "t2_spc", "x")

		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "t1", Format: txt, Multiplicity: domain.PerSession},
		)).OrFatal(t)
		st := try.To(domain.NewStudy(
			ctx, "study", "proj", arch, schema, nil,
			domain.WithLogger(quiet()),
			domain.WithMatches(domain.DatasetMatch{
				Name: "t1", Format: txt, Pattern: `^t1_.*`, IsRegex: true, Order: -1,
			}),
		)).OrFatal(t)

		ds := try.To(st.Dataset("t1")).OrFatal(t)
		if ds.Name != "t1_mprage_32ch" {
			t.Errorf("match should bind the archived name, got %s", ds.Name)
		}
	})

	t.Run("a field match binds a scalar by exact name", func(t *testing.T) {
		arch := newMemArchive()
		arch.Put("proj", "A", "s1", "echo_time", "x")

		schema := try.To(domain.NewSchema(
			domain.FieldSpec{Name: "tr", Dtype: domain.FloatField, Multiplicity: domain.PerSession},
		)).OrFatal(t)
		st := try.To(domain.NewStudy(
			ctx, "study", "proj", arch, schema, nil,
			domain.WithLogger(quiet()),
			domain.WithMatches(domain.FieldMatch{
				Name: "tr", Dtype: domain.FloatField, Pattern: "echo_time",
			}),
		)).OrFatal(t)

		ds := try.To(st.Dataset("tr")).OrFatal(t)
		if ds.Name != "echo_time" || ds.Multiplicity != domain.PerSession {
			t.Errorf("field match should bind the archived name, got %+v", ds)
		}
	})

	t.Run("an ambiguous pattern fails construction", func(t *testing.T) {
		arch := newMemArchive()
		arch.Put("proj", "A", "s1", "t1_a", "x")
		arch.Put("proj", "A", "s1", "t1_b", "x")

		schema := try.To(domain.NewSchema(
			domain.DatasetSpec{Name: "t1", Format: txt, Multiplicity: domain.PerSession},
		)).OrFatal(t)
		_, err := domain.NewStudy(
			ctx, "study", "proj", arch, schema, nil,
			domain.WithLogger(quiet()),
			domain.WithMatches(domain.DatasetMatch{
				Name: "t1", Format: txt, Pattern: `^t1_`, IsRegex: true, Order: -1,
			}),
		)
		if !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error for ambiguous match, got %v", err)
		}
	})
}
