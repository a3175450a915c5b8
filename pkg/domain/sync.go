package domain

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	domerr "github.com/nialab/neuropipe/pkg/domain/errors"
	"github.com/nialab/neuropipe/pkg/domain/format"
	"github.com/nialab/neuropipe/pkg/domain/requirement"
	"github.com/nialab/neuropipe/pkg/utils"
	"github.com/nialab/neuropipe/pkg/utils/combination"
	"github.com/nialab/neuropipe/pkg/utils/tuple"
)

// Reprocess controls skip-if-present semantics. The three values are
// deliberately distinct:
//
//   - Skip: run only what is missing from the archive.
//   - Force: rerun this pipeline, but leave satisfied prerequisites alone.
//   - ForceAll: rerun this pipeline and every prerequisite, transitively.
type Reprocess int

const (
	Skip Reprocess = iota
	Force
	ForceAll
)

func (r Reprocess) String() string {
	switch r {
	case Skip:
		return "skip"
	case Force:
		return "force"
	case ForceAll:
		return "force-all"
	default:
		return fmt.Sprintf("Reprocess(%d)", int(r))
	}
}

// propagate is the reprocess value handed down to prerequisites.
func (r Reprocess) propagate() Reprocess {
	if r == ForceAll {
		return ForceAll
	}
	return Skip
}

// RunParams parameterize one Run call.
type RunParams struct {
	// subset of subject/session ids to consider. Nil means all.
	SubjectIds []string
	SessionIds []string

	Reprocess Reprocess

	// scratch directory for conversions and node outputs.
	WorkDir string

	// versions of external tools available in the execution environment,
	// keyed by tool name. When non-nil, every pipeline requirement must be
	// satisfiable or the run fails before any compute.
	ToolVersions map[string][]requirement.Version
}

// Runner executes an assembled Plan. The engine itself never parallelizes;
// whatever concurrency a runner applies across units is its own business.
type Runner interface {
	Run(ctx context.Context, pl *Plan) (*Report, error)
}

// Unit is one iteration point: a (subject, session) pair the plan executes
// its graph for.
type Unit struct {
	SubjectId string
	SessionId string
}

func (u Unit) String() string {
	return u.SubjectId + "/" + u.SessionId
}

type sinkBinding struct {
	sink  Sink
	specs []SinkSpec
}

// Plan is an assembled, ready-to-execute synchronization of one pipeline
// with the archive: prerequisites first, then one graph execution per unit,
// sources feeding the graph and one sink per output multiplicity draining it.
type Plan struct {
	pipeline *Pipeline
	prereqs  []*Plan
	units    []Unit

	source      Source
	inputConvs  map[string]format.Converter
	outputConvs map[string]format.Converter
	sinks       map[Multiplicity]sinkBinding

	workDir string

	mu              sync.Mutex
	report          *Report
	remainBySubject map[string]int
	remainTotal     int
}

func (pl *Plan) Pipeline() *Pipeline { return pl.pipeline }

// Prerequisites must be run (to completion) before any unit of this plan.
func (pl *Plan) Prerequisites() []*Plan {
	ret := make([]*Plan, len(pl.prereqs))
	copy(ret, pl.prereqs)
	return ret
}

func (pl *Plan) Units() []Unit {
	ret := make([]Unit, len(pl.units))
	copy(ret, pl.units)
	return ret
}

// AttachPrerequisiteReport records the hand-off from a finished prerequisite
// run. Runners call this before executing any unit of this plan.
func (pl *Plan) AttachPrerequisiteReport(r *Report) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.report.Prerequisites = append(pl.report.Prerequisites, r)
}

// Finish seals the plan and returns its report.
func (pl *Plan) Finish() *Report {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	sort.Slice(pl.report.Sessions, func(i, j int) bool {
		a, b := pl.report.Sessions[i], pl.report.Sessions[j]
		if a.SubjectId != b.SubjectId {
			return a.SubjectId < b.SubjectId
		}
		return a.SessionId < b.SessionId
	})
	sort.Strings(pl.report.Subjects)
	return pl.report
}

// Run connects the pipeline to the archive and hands the assembled plan to
// the runner. The heavy lifting of deciding what must run for whom happens
// here, before any compute.
func (p *Pipeline) Run(ctx context.Context, runner Runner, params RunParams) (*Report, error) {
	if err := p.checkRequirements(params.ToolVersions); err != nil {
		return nil, err
	}
	pl, err := p.plan(ctx, params, nil, nil)
	if err != nil {
		return nil, err
	}
	if pl == nil {
		rep := newReport(p.Name())
		rep.Skipped = true
		return rep, nil
	}
	return runner.Run(ctx, pl)
}

// checkRequirements validates that every tool requirement of the pipeline
// can be satisfied by some available version.
func (p *Pipeline) checkRequirements(available map[string][]requirement.Version) error {
	if available == nil {
		return nil
	}
	unmet := []string{}
	for _, req := range p.Requirements() {
		if _, ok := req.BestVersion(available[req.Name]); !ok {
			unmet = append(unmet, req.String())
		}
	}
	if 0 < len(unmet) {
		return fmt.Errorf(
			"%w: pipeline '%s' has unmet tool requirements: %s",
			domerr.ErrUsage, p.Name(), strings.Join(unmet, "; "),
		)
	}
	return nil
}

// plan assembles the execution plan for this pipeline and, recursively, its
// prerequisites. Returns (nil, nil) when every requested output is already
// present in the archive: re-running a satisfied pipeline does nothing.
//
// project is the already-fetched inventory when planning prerequisites, to
// avoid redundant archive queries. resolving is the identity stack of
// pipelines currently being planned, for cycle detection.
func (p *Pipeline) plan(
	ctx context.Context,
	params RunParams,
	project *Project,
	resolving []string,
) (*Plan, error) {
	logger := p.study.Logger()

	if err := p.AssertConnected(); err != nil {
		return nil, err
	}

	id := p.Identity()
	for _, ancestor := range resolving {
		if ancestor == id {
			return nil, domerr.CyclicDependencyError{Stack: append(append([]string{}, resolving...), id)}
		}
	}
	resolving = append(append([]string{}, resolving...), id)

	if project == nil {
		var err error
		project, err = p.study.Archive().Project(ctx, p.study.ProjectId(), ProjectFilter{
			SubjectIds: params.SubjectIds,
			SessionIds: params.SessionIds,
		})
		if err != nil {
			return nil, err
		}
	} else {
		// a handed-down listing was fetched with the parent's scope; the
		// session filter is unchanged, but the subject subset narrows to
		// whoever needs reprocessing upstream.
		project = project.RestrictSubjects(ProjectFilter{SubjectIds: params.SubjectIds})
	}

	sessionsToProcess, subjectsToProcess, err := p.toProcess(project, params.Reprocess)
	if err != nil {
		return nil, err
	}
	if len(sessionsToProcess) == 0 && len(subjectsToProcess) == 0 {
		logger.Printf(
			"all outputs of '%s' are already present in project archive, skipping",
			p.Name(),
		)
		return nil, nil
	}

	pl := &Plan{
		pipeline:    p,
		inputConvs:  map[string]format.Converter{},
		outputConvs: map[string]format.Converter{},
		sinks:       map[Multiplicity]sinkBinding{},
		workDir:     params.WorkDir,
		report:      newReport(p.Name()),
	}

	// prerequisites first, restricted to the subjects needing work here
	prereqs, err := p.Prerequisites()
	if err != nil {
		return nil, err
	}
	prereqSubjects := utils.Map(subjectsToProcess, func(s *Subject) string { return s.Id })
	for _, prereq := range prereqs {
		childParams := params
		childParams.SubjectIds = prereqSubjects
		childParams.Reprocess = params.Reprocess.propagate()
		child, err := prereq.plan(ctx, childParams, project, resolving)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue // already satisfied
		}
		pl.prereqs = append(pl.prereqs, child)
	}

	pl.units = p.iterationUnits(params.SessionIds, sessionsToProcess, subjectsToProcess)

	// one source over the union of declared inputs
	srcSpecs := []SourceSpec{}
	for _, name := range p.inputs {
		ds, err := p.study.Dataset(name)
		if err != nil {
			var missing domerr.MissingDatasetError
			if errors.As(err, &missing) {
				missing.Pipeline = p.Name()
				return nil, missing
			}
			return nil, err
		}
		archivedFmt := ds.Format
		bound := p.inputFormats[name]
		if bound.Name != "" && bound.Name != archivedFmt.Name {
			conv, err := p.study.Formats().Converter(archivedFmt, bound)
			if err != nil {
				return nil, err
			}
			pl.inputConvs[name] = conv
		}
		srcSpecs = append(srcSpecs, SourceSpec{
			SpecName:     name,
			ArchivedName: ds.ArchivedName(p.options),
			Format:       archivedFmt,
			Multiplicity: ds.Multiplicity,
		})
	}
	source, err := p.study.Archive().Source(ctx, p.study.ProjectId(), srcSpecs, p.study.Name())
	if err != nil {
		return nil, err
	}
	pl.source = source

	// one sink per multiplicity level present among the outputs
	for mult, outputs := range p.outputsByMult {
		specs := []SinkSpec{}
		for _, name := range outputs {
			ds, err := p.study.Dataset(name)
			if err != nil {
				return nil, err
			}
			bound := p.outputFormats[name]
			if bound.Name != "" && bound.Name != ds.Format.Name {
				conv, err := p.study.Formats().Converter(bound, ds.Format)
				if err != nil {
					return nil, err
				}
				pl.outputConvs[name] = conv
			}
			specs = append(specs, SinkSpec{
				SpecName:     name,
				ArchivedName: ds.ArchivedName(p.options),
				Format:       ds.Format,
			})
		}
		sink, err := p.study.Archive().Sink(
			ctx, p.study.ProjectId(), specs, mult, p.study.Name(), p.def.Description,
		)
		if err != nil {
			return nil, err
		}
		pl.sinks[mult] = sinkBinding{sink: sink, specs: specs}
	}

	pl.remainBySubject = map[string]int{}
	for _, u := range pl.units {
		pl.remainBySubject[u.SubjectId]++
	}
	pl.remainTotal = len(pl.units)

	return pl, nil
}

// toProcess determines which sessions and subjects lack at least one output
// of the relevant multiplicity.
//
// A missing project-level output forces everything: there is exactly one
// project-level instance, present or not. A subject missing a subject-level
// output is reprocessed with all its sessions. Session-level outputs add
// individual sessions. Subjects of picked sessions are always included.
func (p *Pipeline) toProcess(project *Project, reprocess Reprocess) ([]*Session, []*Subject, error) {
	allSubjects := project.Subjects
	allSessions := project.AllSessions()

	if _, ok := p.outputsByMult[PerVisit]; ok {
		return nil, nil, fmt.Errorf(
			"%w: pipeline '%s' declares a per_visit output, which cannot be scheduled",
			domerr.ErrUsage, p.Name(),
		)
	}

	if reprocess != Skip {
		return allSessions, allSubjects, nil
	}

	sessionSet := map[*Session]struct{}{}
	subjectSet := map[*Subject]struct{}{}
	for _, name := range p.outputs {
		ds, err := p.study.Dataset(name)
		if err != nil {
			return nil, nil, err
		}
		archived := ds.ArchivedName(p.options)
		switch ds.Multiplicity {
		case PerProject:
			if !project.HasDataset(archived) {
				return allSessions, allSubjects, nil
			}
		case PerSubject:
			for _, sub := range allSubjects {
				if !sub.HasDataset(archived) {
					subjectSet[sub] = struct{}{}
				}
			}
		case PerSession:
			for _, ses := range allSessions {
				if !ses.HasDataset(archived) {
					sessionSet[ses] = struct{}{}
				}
			}
		default:
			return nil, nil, fmt.Errorf(
				"%w: unrecognised multiplicity '%s' of output '%s'",
				domerr.ErrUsage, ds.Multiplicity, name,
			)
		}
	}
	for ses := range sessionSet {
		if ses.Subject != nil {
			subjectSet[ses.Subject] = struct{}{}
		}
	}

	// stable order: archive listing order
	sessions := utils.Filter(allSessions, func(s *Session) bool {
		_, ok := sessionSet[s]
		return ok
	})
	subjects := utils.Filter(allSubjects, func(s *Subject) bool {
		_, ok := subjectSet[s]
		return ok
	})
	return sessions, subjects, nil
}

// iterationUnits builds the iteration layer.
//
// With subject- or project-level outputs present, subjects and sessions
// iterate as two independent nested axes over the intersection of the
// subjects' session sets; sessions outside the intersection are skipped,
// with a warning when subjects disagree. With session-level outputs only,
// exactly the (subject, session) pairs needing work are visited.
func (p *Pipeline) iterationUnits(
	sessionIds []string,
	sessionsToProcess []*Session,
	subjectsToProcess []*Subject,
) []Unit {
	nonSession := false
	for mult := range p.outputsByMult {
		if mult != PerSession {
			nonSession = true
		}
	}
	if !nonSession {
		return utils.Map(sessionsToProcess, func(s *Session) Unit {
			subjectId := ""
			if s.Subject != nil {
				subjectId = s.Subject.Id
			}
			return Unit{SubjectId: subjectId, SessionId: s.Id}
		})
	}

	if sessionIds == nil {
		most := []string{}
		var common map[string]struct{}
		for _, sub := range subjectsToProcess {
			ids := utils.Map(sub.Sessions, func(s *Session) string { return s.Id })
			if len(most) < len(ids) {
				most = ids
			}
			if common == nil {
				common = map[string]struct{}{}
				for _, id := range ids {
					common[id] = struct{}{}
				}
				continue
			}
			next := map[string]struct{}{}
			for _, id := range ids {
				if _, ok := common[id]; ok {
					next[id] = struct{}{}
				}
			}
			common = next
		}
		sessionIds = utils.KeysOf(common)
		sort.Strings(sessionIds)
		if len(sessionIds) < len(most) {
			p.study.Logger().Printf(
				"warning: not all sessions will be processed for some subjects as there are an inconsistent number of sessions between subjects. intersection: '%s'; subject with most sessions has '%s'",
				strings.Join(sessionIds, "', '"), strings.Join(most, "', '"),
			)
		}
	}
	subjectIds := utils.Map(subjectsToProcess, func(s *Subject) string { return s.Id })

	return utils.Map(
		combination.Pairs(subjectIds, sessionIds),
		func(pair tuple.Pair[string, string]) Unit {
			sub, ses := pair.Decompose()
			return Unit{SubjectId: sub, SessionId: ses}
		},
	)
}

// RunUnit executes the compute graph for one unit and sinks its outputs.
//
// Safe for concurrent use by runners: archive writes and report bookkeeping
// are serialized internally.
func (pl *Plan) RunUnit(ctx context.Context, u Unit) error {
	p := pl.pipeline
	logger := p.study.Logger()

	fetched, err := pl.source.Fetch(ctx, u.SubjectId, u.SessionId)
	if err != nil {
		return fmt.Errorf("pipeline '%s', unit %s: %w", p.Name(), u, err)
	}

	seed := map[Port]string{}
	for _, name := range p.inputs {
		path, ok := fetched[name]
		if !ok {
			return fmt.Errorf(
				"pipeline '%s', unit %s: source did not resolve input '%s'",
				p.Name(), u, name,
			)
		}
		if conv, ok := pl.inputConvs[name]; ok {
			dest := filepath.Join(
				pl.unitDir(u),
				conv.To().FileName(name+"_input_conversion"),
			)
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			if err := conv.Convert(ctx, path, dest); err != nil {
				return err
			}
			path = dest
		}
		for _, target := range p.inputTargets[name] {
			seed[target] = path
		}
	}

	produced, err := p.graph.Execute(ctx, seed)
	if err != nil {
		return fmt.Errorf("pipeline '%s', unit %s: %w", p.Name(), u, err)
	}

	outputs := map[string]string{}
	for _, name := range p.outputs {
		src, bound := p.outputSources[name]
		val, ok := produced[src]
		if !bound || !ok {
			continue // sink reports it as missing
		}
		if conv, ok := pl.outputConvs[name]; ok {
			dest := filepath.Join(
				pl.unitDir(u),
				conv.To().FileName(name+"_output_conversion"),
			)
			if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
				return err
			}
			if err := conv.Convert(ctx, val, dest); err != nil {
				return err
			}
			val = dest
		}
		outputs[name] = val
	}

	store := func(b sinkBinding, subjectId, sessionId string) error {
		files := map[string]string{}
		for _, spec := range b.specs {
			if v, ok := outputs[spec.SpecName]; ok {
				files[spec.SpecName] = v
			}
		}
		_, missing, err := b.sink.Store(ctx, subjectId, sessionId, files)
		if err != nil {
			return err
		}
		if 0 < len(missing) {
			logger.Printf(
				"warning: pipeline '%s' did not produce output(s) '%s' for %s/%s; stored what is present",
				p.Name(), strings.Join(missing, "', '"), subjectId, sessionId,
			)
		}
		return nil
	}

	if b, ok := pl.sinks[PerSession]; ok {
		if err := store(b, u.SubjectId, u.SessionId); err != nil {
			return err
		}
	}

	pl.mu.Lock()
	defer pl.mu.Unlock()

	if _, ok := pl.sinks[PerSession]; ok {
		pl.report.Sessions = append(pl.report.Sessions, u)
	}
	pl.remainBySubject[u.SubjectId]--
	pl.remainTotal--

	// subject- and project-level outputs are sunk once, when their scope
	// completes; the summary value comes from the scope's last unit.
	if b, ok := pl.sinks[PerSubject]; ok && pl.remainBySubject[u.SubjectId] == 0 {
		if err := store(b, u.SubjectId, SummaryId); err != nil {
			return err
		}
		pl.report.Subjects = append(pl.report.Subjects, u.SubjectId)
	}
	if b, ok := pl.sinks[PerProject]; ok && pl.remainTotal == 0 {
		if err := store(b, SummaryId, SummaryId); err != nil {
			return err
		}
		pl.report.Project = true
	}
	return nil
}

func (pl *Plan) unitDir(u Unit) string {
	base := pl.workDir
	if base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, pl.pipeline.Name(), u.SubjectId, u.SessionId)
}
