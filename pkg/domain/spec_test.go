package domain_test

import (
	"errors"
	"testing"

	"github.com/nialab/neuropipe/pkg/domain"
	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
)

func TestOptions(t *testing.T) {
	t.Run("suffix orders keys lexically", func(t *testing.T) {
		opts := domain.Options{"smooth": 2, "kernel": "gauss", "fast": true}
		actual := opts.Suffix()
		expected := "__fast_true__kernel_gauss__smooth_2"
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})

	t.Run("empty options have no suffix", func(t *testing.T) {
		if s := (domain.Options{}).Suffix(); s != "" {
			t.Errorf("expected empty suffix, got '%s'", s)
		}
		if s := domain.Options(nil).Suffix(); s != "" {
			t.Errorf("expected empty suffix for nil options, got '%s'", s)
		}
	})

	t.Run("scalar and flat slice values are accepted", func(t *testing.T) {
		opts := domain.Options{
			"n": 3, "f": 0.5, "s": "x", "b": false,
			"list": []any{1, "two", 3.0},
		}
		if err := opts.Validate(); err != nil {
			t.Errorf("expected valid options, got %v", err)
		}
	})

	t.Run("other value types are rejected", func(t *testing.T) {
		for name, opts := range map[string]domain.Options{
			"struct value": {"v": struct{}{}},
			"nested slice": {"v": []any{[]any{1}}},
			"map value":    {"v": map[string]int{}},
		} {
			if err := opts.Validate(); !errors.Is(err, domerr.ErrUsage) {
				t.Errorf("%s: expected usage error, got %v", name, err)
			}
		}
	})

	t.Run("equality goes by suffix", func(t *testing.T) {
		a := domain.Options{"smooth": 2}
		b := domain.Options{"smooth": 2}
		c := domain.Options{"smooth": 5}
		if !a.Equal(b) {
			t.Error("same options should be equal")
		}
		if a.Equal(c) {
			t.Error("different values should not be equal")
		}
	})
}

func TestDataset_ArchivedName(t *testing.T) {
	opts := domain.Options{"smooth": 2}

	t.Run("acquired datasets never carry a suffix", func(t *testing.T) {
		ds := domain.Dataset{Name: "t1", Format: txt}
		if actual := ds.ArchivedName(opts); actual != "t1" {
			t.Errorf("(actual, expected) = (%s, t1)", actual)
		}
	})

	t.Run("generated datasets carry the options suffix", func(t *testing.T) {
		ds := domain.Dataset{Name: "study_mask", Format: txt, Processed: true}
		actual := ds.ArchivedName(opts)
		expected := "study_mask__smooth_2"
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})

	t.Run("file name appends the format extension", func(t *testing.T) {
		ds := domain.Dataset{Name: "study_mask", Format: txt, Processed: true}
		actual := ds.FileName(opts)
		expected := "study_mask__smooth_2.txt"
		if actual != expected {
			t.Errorf("(actual, expected) = (%s, %s)", actual, expected)
		}
	})
}

func TestDatasetMatch_Resolve(t *testing.T) {
	names := []string{"t2_flair", "t1_mprage_32ch", "t1_mprage_64ch", "fieldmap"}

	t.Run("an exact pattern matches one name", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "fmap", Pattern: "fieldmap", Format: txt, Order: -1}
		ds, err := m.Resolve(names)
		if err != nil {
			t.Fatal(err)
		}
		if ds.Name != "fieldmap" {
			t.Errorf("(actual, expected) = (%s, fieldmap)", ds.Name)
		}
	})

	t.Run("a regex pattern selects by order among sorted matches", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "t1", Pattern: "^t1_", IsRegex: true, Order: 1}
		ds, err := m.Resolve(names)
		if err != nil {
			t.Fatal(err)
		}
		if ds.Name != "t1_mprage_64ch" {
			t.Errorf("(actual, expected) = (%s, t1_mprage_64ch)", ds.Name)
		}
	})

	t.Run("ambiguous matches without an order are rejected", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "t1", Pattern: "^t1_", IsRegex: true, Order: -1}
		if _, err := m.Resolve(names); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("an order beyond the match count is rejected", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "t1", Pattern: "^t1_", IsRegex: true, Order: 2}
		if _, err := m.Resolve(names); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})

	t.Run("no match at all is a missing dataset", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "dwi", Pattern: "^dwi_", IsRegex: true}
		if _, err := m.Resolve(names); !errors.Is(err, domerr.ErrMissingDataset) {
			t.Errorf("expected missing-dataset error, got %v", err)
		}
	})

	t.Run("a broken regex is rejected", func(t *testing.T) {
		m := domain.DatasetMatch{Name: "x", Pattern: "([", IsRegex: true}
		if _, err := m.Resolve(names); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})
}

func TestFieldMatch_Resolve(t *testing.T) {
	names := []string{"age_at_scan", "age_at_onset", "weight"}

	t.Run("it resolves to a formatless dataset", func(t *testing.T) {
		m := domain.FieldMatch{Name: "weight", Dtype: domain.FloatField, Pattern: "weight", Order: -1}
		ds, err := m.Resolve(names)
		if err != nil {
			t.Fatal(err)
		}
		if ds.Name != "weight" || ds.Format.Name != "" {
			t.Errorf("unexpected dataset: %+v", ds)
		}
	})

	t.Run("regex ambiguity is rejected like dataset matches", func(t *testing.T) {
		m := domain.FieldMatch{Name: "age", Pattern: "^age_", IsRegex: true, Order: -1}
		if _, err := m.Resolve(names); !errors.Is(err, domerr.ErrUsage) {
			t.Errorf("expected usage error, got %v", err)
		}
	})
}

func TestMultiplicity(t *testing.T) {
	t.Run("the four scopes are valid", func(t *testing.T) {
		for _, m := range []domain.Multiplicity{
			domain.PerSession, domain.PerSubject, domain.PerVisit, domain.PerProject,
		} {
			if !m.Valid() {
				t.Errorf("%s should be valid", m)
			}
		}
	})

	t.Run("anything else is not", func(t *testing.T) {
		if domain.Multiplicity("per_galaxy").Valid() {
			t.Error("per_galaxy should not be valid")
		}
		if domain.Multiplicity("").Valid() {
			t.Error("empty multiplicity should not be valid")
		}
	})
}

func TestFieldSpec(t *testing.T) {
	t.Run("a field with a pipeline is processed", func(t *testing.T) {
		fs := domain.FieldSpec{Name: "mean_fd", Dtype: domain.FloatField, Multiplicity: domain.PerSubject, Pipeline: "qc"}
		if !fs.Processed() {
			t.Error("field with a pipeline should be processed")
		}
		if fs.GeneratedBy() != "qc" {
			t.Errorf("(actual, expected) = (%s, qc)", fs.GeneratedBy())
		}
	})

	t.Run("a field without one is acquired", func(t *testing.T) {
		fs := domain.FieldSpec{Name: "age", Dtype: domain.IntField, Multiplicity: domain.PerSubject}
		if fs.Processed() {
			t.Error("field without a pipeline should be acquired")
		}
	})
}
