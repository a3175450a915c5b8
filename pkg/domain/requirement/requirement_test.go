package requirement_test

import (
	"errors"
	"testing"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/requirement"
	"github.com/nialab/neuropipe/pkg/utils/try"
)

func TestParseVersion(t *testing.T) {
	t.Run("it parses dotted numeric versions", func(t *testing.T) {
		for input, expected := range map[string]requirement.Version{
			"5.0.8":   {5, 0, 8},
			"6":       {6},
			" 5.10 ":  {5, 10},
			"0.0.0.1": {0, 0, 0, 1},
		} {
			actual := try.To(requirement.ParseVersion(input)).OrFatal(t)
			if !actual.Equal(expected) {
				t.Errorf("(actual, expected) = (%v, %v)", actual, expected)
			}
		}
	})

	t.Run("it rejects malformed versions", func(t *testing.T) {
		for _, input := range []string{"", "5.0.x", "5..8", "v5.0"} {
			if _, err := requirement.ParseVersion(input); !errors.Is(err, domerr.ErrUsage) {
				t.Errorf("'%s': expected usage error, got %v", input, err)
			}
		}
	})
}

func TestVersion_Less(t *testing.T) {
	t.Run("missing parts count as zero", func(t *testing.T) {
		short := requirement.Version{5, 0}
		long := requirement.Version{5, 0, 0}
		if short.Less(long) {
			t.Error("5.0 should equal 5.0.0")
		}
		if !short.Equal(long) {
			t.Error("5.0 should equal 5.0.0")
		}
		if !short.Less(requirement.Version{5, 0, 1}) {
			t.Error("5.0 should be less than 5.0.1")
		}
	})

	t.Run("comparison is part by part", func(t *testing.T) {
		v508 := requirement.Version{5, 0, 8}
		if !v508.Less(requirement.Version{5, 1}) {
			t.Error("5.0.8 should be less than 5.1")
		}
		v6 := requirement.Version{6}
		if v6.Less(requirement.Version{5, 9, 9}) {
			t.Error("6 should not be less than 5.9.9")
		}
	})
}

func TestRequirement(t *testing.T) {
	fsl := requirement.New("fsl", requirement.Version{5, 0, 8}).
		WithMax(requirement.Version{6})

	t.Run("the range includes min and excludes max", func(t *testing.T) {
		for v, expected := range map[string]bool{
			"5.0.7":  false,
			"5.0.8":  true,
			"5.0.10": true,
			"6":      false,
			"6.0.1":  false,
		} {
			version := try.To(requirement.ParseVersion(v)).OrFatal(t)
			if actual := fsl.Satisfied(version); actual != expected {
				t.Errorf("%s: (actual, expected) = (%v, %v)", v, actual, expected)
			}
		}
	})

	t.Run("no max means no upper bound", func(t *testing.T) {
		open := requirement.New("mrtrix", requirement.Version{3})
		if !open.Satisfied(requirement.Version{42, 1}) {
			t.Error("42.1 should satisfy >= 3")
		}
		if open.Satisfied(requirement.Version{2, 9}) {
			t.Error("2.9 should not satisfy >= 3")
		}
	})

	t.Run("best version picks the highest satisfying one", func(t *testing.T) {
		available := []requirement.Version{
			{4, 1}, {5, 0, 9}, {5, 0, 11}, {6, 0},
		}
		best, ok := fsl.BestVersion(available)
		if !ok {
			t.Fatal("a satisfying version should be found")
		}
		if !best.Equal(requirement.Version{5, 0, 11}) {
			t.Errorf("(actual, expected) = (%v, 5.0.11)", best)
		}
	})

	t.Run("best version reports when nothing satisfies", func(t *testing.T) {
		if _, ok := fsl.BestVersion([]requirement.Version{{4, 1}, {6, 1}}); ok {
			t.Error("no available version should satisfy")
		}
	})
}
