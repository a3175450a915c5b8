package domain

import (
	"context"
	"fmt"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
)

// NameMap renames data specs between a combined (parent) study namespace and
// a sub-study namespace: parent spec name to sub spec name.
type NameMap map[string]string

// reverse inverts the map. Duplicated sub names are a usage error.
func (m NameMap) reverse() (NameMap, error) {
	rev := NameMap{}
	for parent, sub := range m {
		if _, ok := rev[sub]; ok {
			return nil, fmt.Errorf(
				"%w: two parent specs map onto sub spec '%s'", domerr.ErrUsage, sub,
			)
		}
		rev[sub] = parent
	}
	return rev, nil
}

// SubStudySpec declares one sub-study of a combined study: its schema and
// the renaming between the parent's and the sub-study's spec namespaces.
//
// The map is validated here, at construction, not lazily at pipeline-build
// time: every mapped sub name must exist in the sub schema, and the map must
// be invertible.
type SubStudySpec struct {
	Name    string
	Schema  *Schema
	NameMap NameMap
}

func NewSubStudySpec(name string, schema *Schema, nameMap NameMap) (SubStudySpec, error) {
	if _, err := nameMap.reverse(); err != nil {
		return SubStudySpec{}, err
	}
	for _, sub := range nameMap {
		if _, ok := schema.Spec(sub); !ok {
			return SubStudySpec{}, domerr.NameError{Name: sub, Study: name, Known: schema.SpecNames()}
		}
	}
	return SubStudySpec{Name: name, Schema: schema, NameMap: nameMap}, nil
}

// MultiStudy composes sub-studies into one combined study: pipelines defined
// in a sub-study's namespace are translated into the parent namespace by
// renaming their boundary specs.
type MultiStudy struct {
	*Study

	subSpecs map[string]SubStudySpec
	subs     map[string]*Study
}

// NewMultiStudy builds the parent study and one sub-study per spec, each
// named '<parent>_<sub>' and fed the parent inputs its name map claims.
func NewMultiStudy(
	ctx context.Context,
	name string,
	projectId string,
	archive Archive,
	schema *Schema,
	subSpecs []SubStudySpec,
	inputs map[string]Dataset,
	options ...StudyOption,
) (*MultiStudy, error) {
	parent, err := NewStudy(ctx, name, projectId, archive, schema, inputs, options...)
	if err != nil {
		return nil, err
	}

	ms := &MultiStudy{
		Study:    parent,
		subSpecs: map[string]SubStudySpec{},
		subs:     map[string]*Study{},
	}
	for _, ss := range subSpecs {
		if _, dup := ms.subs[ss.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate sub-study name '%s'", domerr.ErrUsage, ss.Name)
		}
		// parent-side names must be declared on the parent schema
		for parentName := range ss.NameMap {
			if _, ok := schema.Spec(parentName); !ok {
				return nil, domerr.NameError{Name: parentName, Study: name, Known: schema.SpecNames()}
			}
		}

		subInputs := map[string]Dataset{}
		for parentName, subName := range ss.NameMap {
			if ds, ok := parent.inputs[parentName]; ok {
				subInputs[subName] = ds
			}
		}
		sub, err := NewStudy(
			ctx, name+"_"+ss.Name, projectId, archive, ss.Schema, subInputs,
			WithFormats(parent.formats), WithLogger(parent.logger),
		)
		if err != nil {
			return nil, err
		}
		ms.subSpecs[ss.Name] = ss
		ms.subs[ss.Name] = sub
	}
	return ms, nil
}

func (ms *MultiStudy) SubStudy(name string) (*Study, error) {
	sub, ok := ms.subs[name]
	if !ok {
		return nil, fmt.Errorf("%w: '%s' is not a sub-study", domerr.ErrUsage, name)
	}
	return sub, nil
}

// Translate returns a parent-namespace Builder delegating to a builder of
// the named sub-study.
//
// The built pipeline shares the sub pipeline's compute graph; only its
// boundary is renamed through the spec's name map. Sub boundary names the
// map does not cover are a usage error.
func (ms *MultiStudy) Translate(subName string, builderName string) Builder {
	return func(st *Study, opts Options) (*Pipeline, error) {
		ss, ok := ms.subSpecs[subName]
		if !ok {
			return nil, fmt.Errorf("%w: '%s' is not a sub-study", domerr.ErrUsage, subName)
		}
		sub := ms.subs[subName]

		sp, err := sub.Build(builderName, opts)
		if err != nil {
			return nil, err
		}
		rev, err := ss.NameMap.reverse()
		if err != nil {
			return nil, err
		}

		def := Def{
			Name:           subName + "_" + sp.Name(),
			Description:    sp.Description(),
			Citations:      sp.Citations(),
			Requirements:   sp.def.Requirements,
			ApproxRuntime:  sp.ApproxRuntime(),
			Version:        sp.Version(),
			MinThreads:     sp.MinThreads(),
			MaxThreads:     sp.MaxThreads(),
			DefaultOptions: sp.def.DefaultOptions,
		}
		for _, in := range sp.inputs {
			parentName, ok := rev[in]
			if !ok {
				return nil, fmt.Errorf(
					"%w: sub-study '%s' input '%s' is not covered by the name map",
					domerr.ErrUsage, subName, in,
				)
			}
			def.Inputs = append(def.Inputs, Bound{Name: parentName, Format: sp.inputFormats[in]})
		}
		for _, out := range sp.outputs {
			parentName, ok := rev[out]
			if !ok {
				return nil, fmt.Errorf(
					"%w: sub-study '%s' output '%s' is not covered by the name map",
					domerr.ErrUsage, subName, out,
				)
			}
			def.Outputs = append(def.Outputs, Bound{Name: parentName, Format: sp.outputFormats[out]})
		}

		p, err := NewPipeline(st, def, opts)
		if err != nil {
			return nil, err
		}

		// adopt the sub pipeline's graph and wiring wholesale
		p.graph = sp.graph
		for _, in := range sp.inputs {
			p.inputTargets[rev[in]] = sp.inputTargets[in]
			delete(p.unconnectedIn, rev[in])
		}
		for _, out := range sp.outputs {
			if src, ok := sp.outputSources[out]; ok {
				p.outputSources[rev[out]] = src
				delete(p.unconnectedOut, rev[out])
			}
		}
		return p, nil
	}
}
