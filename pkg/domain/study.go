package domain

import (
	"context"
	"fmt"
	"log"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/format"
	"github.com/nialab/neuropipe/pkg/utils"
)

// Builder constructs one pipeline of a study, parameterized with options.
//
// Builders are registered on a Schema by name; generated DataSpecs point at
// the builder producing them.
type Builder func(st *Study, opts Options) (*Pipeline, error)

// Schema is the immutable declaration of a study type: its data specs and
// the pipeline builders generating the processed ones.
//
// Build one Schema value per study type, up front. "Inheritance" between
// study types is the explicit Extend, which replaces same-named base specs.
type Schema struct {
	specs    map[string]DataSpec
	order    []string
	builders map[string]Builder
}

func NewSchema(specs ...DataSpec) (*Schema, error) {
	s := &Schema{
		specs:    map[string]DataSpec{},
		builders: map[string]Builder{},
	}
	for _, spec := range specs {
		if err := s.add(spec); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Schema) add(spec DataSpec) error {
	name := spec.SpecName()
	if _, ok := s.specs[name]; ok {
		return fmt.Errorf("%w: data spec '%s' is declared twice", domerr.ErrUsage, name)
	}
	if ds, ok := spec.(DatasetSpec); ok && !ds.Multiplicity.Valid() {
		return fmt.Errorf("%w: data spec '%s' has invalid multiplicity '%s'",
			domerr.ErrUsage, name, ds.Multiplicity)
	}
	if fs, ok := spec.(FieldSpec); ok && !fs.Multiplicity.Valid() {
		return fmt.Errorf("%w: data spec '%s' has invalid multiplicity '%s'",
			domerr.ErrUsage, name, fs.Multiplicity)
	}
	s.specs[name] = spec
	s.order = append(s.order, name)
	return nil
}

// OnPipeline registers the builder a generated spec names in its Pipeline
// field. Registering a name twice is a usage error.
func (s *Schema) OnPipeline(name string, b Builder) error {
	if _, ok := s.builders[name]; ok {
		return fmt.Errorf("%w: pipeline builder '%s' is registered twice", domerr.ErrUsage, name)
	}
	s.builders[name] = b
	return nil
}

// Extend derives a new schema from base: specs with names already in base
// replace (override) the base declaration, new names are appended. Builders
// of the base are carried over.
func Extend(base *Schema, specs ...DataSpec) (*Schema, error) {
	ext := &Schema{
		specs:    map[string]DataSpec{},
		builders: map[string]Builder{},
	}
	for _, name := range base.order {
		ext.specs[name] = base.specs[name]
		ext.order = append(ext.order, name)
	}
	for name, b := range base.builders {
		ext.builders[name] = b
	}
	for _, spec := range specs {
		name := spec.SpecName()
		if _, ok := ext.specs[name]; ok {
			ext.specs[name] = spec // explicit override
			continue
		}
		if err := ext.add(spec); err != nil {
			return nil, err
		}
	}
	return ext, nil
}

func (s *Schema) Spec(name string) (DataSpec, bool) {
	spec, ok := s.specs[name]
	return spec, ok
}

func (s *Schema) SpecNames() []string {
	names := make([]string, len(s.order))
	copy(names, s.order)
	return names
}

// AcquiredSpecs lists specs with no generating pipeline.
func (s *Schema) AcquiredSpecs() []DataSpec {
	ret := []DataSpec{}
	for _, name := range s.order {
		if spec := s.specs[name]; !spec.Processed() {
			ret = append(ret, spec)
		}
	}
	return ret
}

// Study is a named, versioned bundle of data specs bound to a project in an
// archive, plus the pipelines generating its processed specs.
type Study struct {
	name      string
	projectId string
	archive   Archive
	schema    *Schema
	inputs    map[string]Dataset
	formats   *format.Registry
	logger    *log.Logger
}

type StudyOption func(*studyConfig)

type studyConfig struct {
	logger  *log.Logger
	formats *format.Registry
	matches []Match
}

func WithLogger(l *log.Logger) StudyOption {
	return func(c *studyConfig) { c.logger = l }
}

// WithFormats sets the format/converter registry consulted when archived and
// graph-boundary formats differ.
func WithFormats(r *format.Registry) StudyOption {
	return func(c *studyConfig) { c.formats = r }
}

// WithMatches binds acquired specs by pattern: each match is resolved
// against the project's dataset listing once, at study construction.
func WithMatches(matches ...Match) StudyOption {
	return func(c *studyConfig) { c.matches = append(c.matches, matches...) }
}

// NewStudy validates inputs against the schema and binds the study to its
// archive project.
//
// Every key of inputs must name a declared spec. Acquired specs with no
// supplied input are warned about (non-fatal): pipelines needing them fail
// only when actually requested.
func NewStudy(
	ctx context.Context,
	name string,
	projectId string,
	archive Archive,
	schema *Schema,
	inputs map[string]Dataset,
	options ...StudyOption,
) (*Study, error) {
	conf := studyConfig{logger: log.Default()}
	for _, opt := range options {
		opt(&conf)
	}

	if conf.formats == nil {
		conf.formats = format.NewRegistry()
	}

	st := &Study{
		name:      name,
		projectId: projectId,
		archive:   archive,
		schema:    schema,
		inputs:    map[string]Dataset{},
		formats:   conf.formats,
		logger:    conf.logger,
	}

	for specName, ds := range inputs {
		if _, ok := schema.Spec(specName); !ok {
			return nil, domerr.NameError{Name: specName, Study: name, Known: schema.SpecNames()}
		}
		st.inputs[specName] = ds
	}

	if 0 < len(conf.matches) {
		if err := st.resolveMatches(ctx, conf.matches); err != nil {
			return nil, err
		}
	}

	for _, spec := range schema.AcquiredSpecs() {
		if _, ok := st.inputs[spec.SpecName()]; !ok {
			st.logger.Printf(
				"warning: acquired data '%s' was not supplied to study '%s' (supplied: '%v'). pipelines depending on it will not run",
				spec.SpecName(), name, utils.KeysOf(st.inputs),
			)
		}
	}

	// every generated spec must name a registered builder
	for _, specName := range schema.SpecNames() {
		spec, _ := schema.Spec(specName)
		if !spec.Processed() {
			continue
		}
		if _, ok := schema.builders[spec.GeneratedBy()]; !ok {
			return nil, fmt.Errorf(
				"%w: generated spec '%s' names unregistered pipeline builder '%s'",
				domerr.ErrUsage, specName, spec.GeneratedBy(),
			)
		}
	}

	return st, nil
}

// resolveMatches queries the archive once and binds each match result as an
// input dataset.
func (st *Study) resolveMatches(ctx context.Context, matches []Match) error {
	project, err := st.archive.Project(ctx, st.projectId, ProjectFilter{})
	if err != nil {
		return err
	}
	pool := map[string]struct{}{}
	for _, ses := range project.AllSessions() {
		for _, n := range ses.DatasetNames {
			pool[n] = struct{}{}
		}
	}
	names := utils.KeysOf(pool)

	for _, m := range matches {
		spec, ok := st.schema.Spec(m.SpecName())
		if !ok {
			return domerr.NameError{Name: m.SpecName(), Study: st.name, Known: st.schema.SpecNames()}
		}
		ds, err := m.Resolve(names)
		if err != nil {
			return err
		}
		ds.Multiplicity = spec.SpecMultiplicity()
		st.inputs[m.SpecName()] = ds
	}
	return nil
}

func (st *Study) Name() string { return st.name }

func (st *Study) ProjectId() string { return st.projectId }

func (st *Study) Archive() Archive { return st.archive }

func (st *Study) Schema() *Schema { return st.schema }

func (st *Study) Formats() *format.Registry { return st.formats }

func (st *Study) Logger() *log.Logger { return st.logger }

// Dataset resolves a spec name to a concrete dataset.
//
// A caller-supplied input wins; otherwise a processed spec resolves to its
// to-be-generated dataset (name prefixed with the study name); an acquired
// spec with no input fails with MissingDatasetError. A name matching no spec
// at all fails with NameError.
func (st *Study) Dataset(name string) (Dataset, error) {
	if ds, ok := st.inputs[name]; ok {
		spec, _ := st.schema.Spec(name)
		if ds.Multiplicity == "" && spec != nil {
			ds.Multiplicity = spec.SpecMultiplicity()
		}
		return ds, nil
	}
	spec, ok := st.schema.Spec(name)
	if !ok {
		return Dataset{}, domerr.NameError{Name: name, Study: st.name, Known: st.schema.SpecNames()}
	}
	if !spec.Processed() {
		return Dataset{}, domerr.MissingDatasetError{Name: name}
	}
	dspec, isDataset := spec.(DatasetSpec)
	if !isDataset {
		fspec := spec.(FieldSpec)
		return Dataset{
			Name:         st.name + "_" + fspec.Name,
			Multiplicity: fspec.Multiplicity,
			Processed:    true,
			Pipeline:     fspec.Pipeline,
		}, nil
	}
	return Dataset{
		Name:         st.name + "_" + dspec.Name,
		Format:       dspec.Format,
		Multiplicity: dspec.Multiplicity,
		Processed:    true,
		Pipeline:     dspec.Pipeline,
	}, nil
}

// PipelineFor builds the pipeline generating the given processed spec,
// bound with the given options.
func (st *Study) PipelineFor(specName string, opts Options) (*Pipeline, error) {
	ds, err := st.Dataset(specName)
	if err != nil {
		return nil, err
	}
	if !ds.Processed {
		return nil, fmt.Errorf(
			"%w: '%s' is acquired data, no pipeline generates it", domerr.ErrUsage, specName,
		)
	}
	return st.Build(ds.Pipeline, opts)
}

// Build invokes a registered pipeline builder by name.
func (st *Study) Build(builderName string, opts Options) (*Pipeline, error) {
	b, ok := st.schema.builders[builderName]
	if !ok {
		return nil, fmt.Errorf(
			"%w: pipeline builder '%s' is not registered on study '%s'",
			domerr.ErrUsage, builderName, st.name,
		)
	}
	return b(st, opts)
}
