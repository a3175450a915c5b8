package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/format"
	"github.com/nialab/neuropipe/pkg/domain/requirement"
)

// Bound names one pipeline boundary endpoint: a study spec name, plus the
// format the compute graph expects there when it differs from the spec's
// archived format (zero Format means "as archived").
type Bound struct {
	Name   string
	Format format.Format
}

// In is a Bound with the spec's own format.
func In(name string) Bound {
	return Bound{Name: name}
}

// InAs is a Bound expecting the named format at the graph boundary; a
// converter is inserted at run time when the archived format differs.
func InAs(name string, f format.Format) Bound {
	return Bound{Name: name, Format: f}
}

// Def describes a pipeline to be constructed: its boundary, default
// parameterization and bookkeeping metadata.
type Def struct {
	Name    string
	Inputs  []Bound
	Outputs []Bound

	// DefaultOptions are the pipeline's parameters; values supplied at
	// construction override same-named defaults, unknown keys are ignored.
	DefaultOptions Options

	Description  string
	Citations    []Citation
	Requirements []requirement.Requirement

	// conservative estimate, for HPC scheduler time limits.
	ApproxRuntime time.Duration

	// increment whenever the pipeline's outputs change meaning.
	Version int

	MinThreads int
	MaxThreads int
}

// Pipeline is one runnable unit of compute: a graph with declared boundary
// names bound to study data specs, plus everything needed to synchronize its
// execution with the archive.
type Pipeline struct {
	study *Study
	def   Def
	graph *Graph

	options Options

	inputs  []string // declared input spec names, in order
	outputs []string // declared output spec names, in order

	inputFormats  map[string]format.Format // zero value: use archived format
	outputFormats map[string]format.Format

	outputsByMult map[Multiplicity][]string

	unconnectedIn  map[string]struct{}
	unconnectedOut map[string]struct{}

	inputTargets  map[string][]Port // spec name -> consuming graph ports
	outputSources map[string]Port   // spec name -> producing graph port
}

// NewPipeline validates def against the study's schema and prepares an empty
// compute graph.
//
// Every input/output name must be declared on the study; duplicates within
// inputs or within outputs are usage errors.
func NewPipeline(st *Study, def Def, opts Options) (*Pipeline, error) {
	if err := def.DefaultOptions.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	merged := Options{}
	for k, v := range def.DefaultOptions {
		merged[k] = v
	}
	for k, v := range opts {
		if _, ok := merged[k]; ok {
			merged[k] = v
		}
	}

	p := &Pipeline{
		study:          st,
		def:            def,
		graph:          NewGraph(),
		options:        merged,
		inputFormats:   map[string]format.Format{},
		outputFormats:  map[string]format.Format{},
		outputsByMult:  map[Multiplicity][]string{},
		unconnectedIn:  map[string]struct{}{},
		unconnectedOut: map[string]struct{}{},
		inputTargets:   map[string][]Port{},
		outputSources:  map[string]Port{},
	}

	for _, in := range def.Inputs {
		if _, ok := st.Schema().Spec(in.Name); !ok {
			return nil, domerr.NameError{Name: in.Name, Study: st.Name(), Known: st.Schema().SpecNames()}
		}
		if _, dup := p.unconnectedIn[in.Name]; dup {
			return nil, fmt.Errorf(
				"%w: duplicate input '%s' in pipeline '%s'", domerr.ErrUsage, in.Name, def.Name,
			)
		}
		p.inputs = append(p.inputs, in.Name)
		p.inputFormats[in.Name] = in.Format
		p.unconnectedIn[in.Name] = struct{}{}
	}

	for _, out := range def.Outputs {
		spec, ok := st.Schema().Spec(out.Name)
		if !ok {
			return nil, domerr.NameError{Name: out.Name, Study: st.Name(), Known: st.Schema().SpecNames()}
		}
		if _, dup := p.unconnectedOut[out.Name]; dup {
			return nil, fmt.Errorf(
				"%w: duplicate output '%s' in pipeline '%s'", domerr.ErrUsage, out.Name, def.Name,
			)
		}
		p.outputs = append(p.outputs, out.Name)
		p.outputFormats[out.Name] = out.Format
		p.unconnectedOut[out.Name] = struct{}{}

		mult := spec.SpecMultiplicity()
		p.outputsByMult[mult] = append(p.outputsByMult[mult], out.Name)
	}

	return p, nil
}

func (p *Pipeline) Name() string { return p.def.Name }

func (p *Pipeline) Study() *Study { return p.study }

func (p *Pipeline) Graph() *Graph { return p.graph }

func (p *Pipeline) Options() Options { return p.options }

func (p *Pipeline) Description() string { return p.def.Description }

func (p *Pipeline) Citations() []Citation { return p.def.Citations }

func (p *Pipeline) Version() int { return p.def.Version }

func (p *Pipeline) ApproxRuntime() time.Duration { return p.def.ApproxRuntime }

func (p *Pipeline) MinThreads() int { return p.def.MinThreads }

func (p *Pipeline) MaxThreads() int { return p.def.MaxThreads }

// Requirements are the pipeline's own tool constraints plus every node's.
func (p *Pipeline) Requirements() []requirement.Requirement {
	return append(append([]requirement.Requirement{}, p.def.Requirements...), p.graph.Requirements()...)
}

func (p *Pipeline) Inputs() []string {
	ret := make([]string, len(p.inputs))
	copy(ret, p.inputs)
	return ret
}

func (p *Pipeline) Outputs() []string {
	ret := make([]string, len(p.outputs))
	copy(ret, p.outputs)
	return ret
}

// Multiplicities present among the declared outputs.
func (p *Pipeline) Multiplicities() []Multiplicity {
	mults := make([]Multiplicity, 0, len(p.outputsByMult))
	for m := range p.outputsByMult {
		mults = append(mults, m)
	}
	sort.Slice(mults, func(i, j int) bool { return mults[i] < mults[j] })
	return mults
}

func (p *Pipeline) OutputsOf(mult Multiplicity) []string {
	ret := make([]string, len(p.outputsByMult[mult]))
	copy(ret, p.outputsByMult[mult])
	return ret
}

// AddNode adds a compute node to the pipeline's graph.
func (p *Pipeline) AddNode(n *Node) error {
	return p.graph.Add(n)
}

// Connect wires two graph nodes port-to-port.
func (p *Pipeline) Connect(fromNode, fromPort, toNode, toPort string) error {
	return p.graph.Connect(fromNode, fromPort, toNode, toPort)
}

// ConnectInput wires a declared input to an input port of a graph node.
//
// One input may feed several nodes; each call marks the name connected.
func (p *Pipeline) ConnectInput(specName string, nodeName string, nodePort string) error {
	if !hasPort(p.inputs, specName) {
		return fmt.Errorf(
			"%w: '%s' is not a valid input for pipeline '%s' (declared: '%s')",
			domerr.ErrUsage, specName, p.def.Name, strings.Join(p.inputs, "', '"),
		)
	}
	node, ok := p.graph.Node(nodeName)
	if !ok {
		return fmt.Errorf("%w: node '%s' is not in pipeline '%s'", domerr.ErrUsage, nodeName, p.def.Name)
	}
	if !hasPort(node.Inputs, nodePort) {
		return fmt.Errorf("%w: node '%s' has no input port '%s'", domerr.ErrUsage, nodeName, nodePort)
	}
	p.inputTargets[specName] = append(p.inputTargets[specName], Port{Node: nodeName, Name: nodePort})
	delete(p.unconnectedIn, specName)
	return nil
}

// ConnectOutput wires an output port of a graph node to a declared output.
//
// Connecting the same output twice is a usage error.
func (p *Pipeline) ConnectOutput(specName string, nodeName string, nodePort string) error {
	if !hasPort(p.outputs, specName) {
		return fmt.Errorf(
			"%w: '%s' is not a valid output for pipeline '%s' (declared: '%s')",
			domerr.ErrUsage, specName, p.def.Name, strings.Join(p.outputs, "', '"),
		)
	}
	if _, unconnected := p.unconnectedOut[specName]; !unconnected {
		return fmt.Errorf(
			"%w: output '%s' of pipeline '%s' has been connected already",
			domerr.ErrUsage, specName, p.def.Name,
		)
	}
	node, ok := p.graph.Node(nodeName)
	if !ok {
		return fmt.Errorf("%w: node '%s' is not in pipeline '%s'", domerr.ErrUsage, nodeName, p.def.Name)
	}
	if !hasPort(node.Outputs, nodePort) {
		return fmt.Errorf("%w: node '%s' has no output port '%s'", domerr.ErrUsage, nodeName, nodePort)
	}
	p.outputSources[specName] = Port{Node: nodeName, Name: nodePort}
	delete(p.unconnectedOut, specName)
	return nil
}

// AssertConnected is the structural gate before any run: it fails listing
// every declared input/output which was never wired.
func (p *Pipeline) AssertConnected() error {
	if len(p.unconnectedIn) == 0 && len(p.unconnectedOut) == 0 {
		return nil
	}
	ins := []string{}
	for n := range p.unconnectedIn {
		ins = append(ins, n)
	}
	outs := []string{}
	for n := range p.unconnectedOut {
		outs = append(outs, n)
	}
	sort.Strings(ins)
	sort.Strings(outs)
	return domerr.UnconnectedError{Pipeline: p.def.Name, Inputs: ins, Outputs: outs}
}

// Identity distinguishes pipelines structurally: two requests for the same
// pipeline of the same study with the same boundary and options collapse to
// one prerequisite.
func (p *Pipeline) Identity() string {
	return fmt.Sprintf(
		"%s/%s@v%d[in:%s][out:%s]%s",
		p.study.Name(), p.def.Name, p.def.Version,
		strings.Join(p.inputs, ","), strings.Join(p.outputs, ","),
		p.options.Suffix(),
	)
}

// Prerequisites resolves the pipelines generating this pipeline's processed
// inputs, de-duplicated by identity. Acquired inputs contribute nothing.
//
// Each prerequisite is built with this pipeline's options, so option-derived
// output names line up along the chain.
func (p *Pipeline) Prerequisites() ([]*Pipeline, error) {
	seen := map[string]struct{}{}
	prereqs := []*Pipeline{}
	for _, name := range p.inputs {
		if _, supplied := p.study.inputs[name]; supplied {
			// an externally supplied dataset needs no generation
			continue
		}
		spec, _ := p.study.Schema().Spec(name)
		if spec == nil || !spec.Processed() {
			continue
		}
		prereq, err := p.study.Build(spec.GeneratedBy(), p.options)
		if err != nil {
			return nil, err
		}
		id := prereq.Identity()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		prereqs = append(prereqs, prereq)
	}
	return prereqs, nil
}
