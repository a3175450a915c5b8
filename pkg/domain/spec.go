package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/format"
)

// Multiplicity is the cardinality scope of a dataset or field:
// one instance per session, per subject, per visit or per whole project.
type Multiplicity string

const (
	PerSession Multiplicity = "per_session"
	PerSubject Multiplicity = "per_subject"
	PerVisit   Multiplicity = "per_visit"
	PerProject Multiplicity = "per_project"
)

func (m Multiplicity) String() string {
	return string(m)
}

func (m Multiplicity) Valid() bool {
	switch m {
	case PerSession, PerSubject, PerVisit, PerProject:
		return true
	default:
		return false
	}
}

// DataSpec is the declaration of one named unit of data a study consumes or
// produces: a dataset (file/directory) or a scalar field.
//
// A spec with a generating pipeline attached is "processed" (generated);
// otherwise the data is acquired and must be supplied from outside.
type DataSpec interface {
	SpecName() string
	SpecMultiplicity() Multiplicity

	// name of the pipeline builder generating this spec. Empty for acquired specs.
	GeneratedBy() string

	// Processed is true iff a generating pipeline is attached.
	Processed() bool
}

// DatasetSpec declares a file-based unit of data.
type DatasetSpec struct {
	Name         string
	Format       format.Format
	Multiplicity Multiplicity

	// Pipeline names the builder registered on the schema which generates
	// this dataset. Empty means the dataset is acquired.
	Pipeline string
}

var _ DataSpec = DatasetSpec{}

func (s DatasetSpec) SpecName() string { return s.Name }

func (s DatasetSpec) SpecMultiplicity() Multiplicity { return s.Multiplicity }

func (s DatasetSpec) GeneratedBy() string { return s.Pipeline }

func (s DatasetSpec) Processed() bool { return s.Pipeline != "" }

func (s DatasetSpec) String() string {
	return fmt.Sprintf(
		"DatasetSpec(name='%s', format=%s, multiplicity=%s)",
		s.Name, s.Format, s.Multiplicity,
	)
}

// FieldType is the value type of a scalar field.
type FieldType string

const (
	IntField   FieldType = "int"
	FloatField FieldType = "float"
	StrField   FieldType = "str"
)

// FieldSpec declares a scalar (non-file) unit of data.
type FieldSpec struct {
	Name         string
	Dtype        FieldType
	Multiplicity Multiplicity
	Pipeline     string
}

var _ DataSpec = FieldSpec{}

func (s FieldSpec) SpecName() string { return s.Name }

func (s FieldSpec) SpecMultiplicity() Multiplicity { return s.Multiplicity }

func (s FieldSpec) GeneratedBy() string { return s.Pipeline }

func (s FieldSpec) Processed() bool { return s.Pipeline != "" }

// Dataset is an existing, concrete dataset: a name resolved against the
// archive plus its storage format. It is what Study.Dataset returns and what
// sources/sinks are given.
type Dataset struct {
	// stem of the archived file, options suffix excluded.
	Name string

	Format       format.Format
	Multiplicity Multiplicity

	// true when the dataset is generated by a pipeline (and so its archived
	// name carries the options suffix of that pipeline).
	Processed bool

	// builder name of the generating pipeline. Empty for acquired data.
	Pipeline string
}

// ArchivedName is the stem the dataset is stored under in the archive.
//
// Generated datasets carry a suffix derived from the options of their
// generating pipeline, so that differently-parameterized invocations do not
// collide and the skip logic compares fully qualified names.
func (d Dataset) ArchivedName(opts Options) string {
	if !d.Processed {
		return d.Name
	}
	return d.Name + opts.Suffix()
}

// FileName is ArchivedName with the format extension appended.
func (d Dataset) FileName(opts Options) string {
	return d.Format.FileName(d.ArchivedName(opts))
}

// Match binds an externally-acquired spec by pattern instead of exact name:
// the pattern is matched against a project's dataset names once, at study
// construction, and resolves to a concrete Dataset.
type Match interface {
	// spec name the resolved dataset is bound under.
	SpecName() string

	Resolve(names []string) (Dataset, error)
}

// DatasetMatch is the file-based Match variant.
type DatasetMatch struct {
	// name under which the matched dataset is bound (a spec name).
	Name string

	Format format.Format

	// Pattern is an exact name, or a regular expression when IsRegex.
	Pattern string
	IsRegex bool

	// Order disambiguates multiple matches: the Order-th match (0-based,
	// in lexical order) is taken. With Order < 0 the match must be unique.
	Order int
}

var _ Match = DatasetMatch{}

func (m DatasetMatch) SpecName() string { return m.Name }

// Resolve matches the pattern against names and returns the matched Dataset.
func (m DatasetMatch) Resolve(names []string) (Dataset, error) {
	matched, err := resolvePattern(m.Name, m.Pattern, m.IsRegex, m.Order, names)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Name: matched, Format: m.Format}, nil
}

// FieldMatch is the scalar Match variant.
type FieldMatch struct {
	Name  string
	Dtype FieldType

	Pattern string
	IsRegex bool
	Order   int
}

var _ Match = FieldMatch{}

func (m FieldMatch) SpecName() string { return m.Name }

func (m FieldMatch) Resolve(names []string) (Dataset, error) {
	matched, err := resolvePattern(m.Name, m.Pattern, m.IsRegex, m.Order, names)
	if err != nil {
		return Dataset{}, err
	}
	return Dataset{Name: matched}, nil
}

func resolvePattern(specName, pattern string, isRegex bool, order int, names []string) (string, error) {
	matched := []string{}
	if isRegex {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return "", fmt.Errorf("%w: bad pattern for match '%s': %s", domerr.ErrUsage, specName, err)
		}
		for _, n := range names {
			if re.MatchString(n) {
				matched = append(matched, n)
			}
		}
	} else {
		for _, n := range names {
			if n == pattern {
				matched = append(matched, n)
			}
		}
	}
	sort.Strings(matched)

	switch {
	case len(matched) == 0:
		return "", domerr.MissingDatasetError{Name: specName}
	case order < 0 && 1 < len(matched):
		return "", fmt.Errorf(
			"%w: pattern for '%s' matches '%s' ambiguously",
			domerr.ErrUsage, specName, strings.Join(matched, "', '"),
		)
	case 0 <= order && len(matched) <= order:
		return "", fmt.Errorf(
			"%w: pattern for '%s' has %d matches, order %d requested",
			domerr.ErrUsage, specName, len(matched), order,
		)
	}
	if order < 0 {
		order = 0
	}
	return matched[order], nil
}

// Options parameterize a pipeline and take part in the identity of its
// outputs. Values are restricted to int, float64, string, bool and flat
// slices of those.
type Options map[string]any

func (o Options) Validate() error {
	for k, v := range o {
		if !optionValueOk(v) {
			return fmt.Errorf(
				"%w: option '%s' has unsupported type %T", domerr.ErrUsage, k, v,
			)
		}
	}
	return nil
}

func optionValueOk(v any) bool {
	switch vv := v.(type) {
	case int, float64, string, bool:
		return true
	case []any:
		for _, item := range vv {
			switch item.(type) {
			case int, float64, string, bool:
			default:
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Suffix derives the archived-name suffix identifying this parameterization:
// "__key_value" per option, keys sorted. Empty options give an empty suffix.
func (o Options) Suffix() string {
	if len(o) == 0 {
		return ""
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sb := strings.Builder{}
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("__%s_%v", k, o[k]))
	}
	return sb.String()
}

func (o Options) Equal(other Options) bool {
	return o.Suffix() == other.Suffix()
}

// Citation describes a publication to be cited when a pipeline is used.
type Citation struct {
	Short string
	DOI   string
	URL   string
}
