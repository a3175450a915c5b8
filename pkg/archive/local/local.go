// Package local archives projects as a plain directory tree.
//
// Layout:
//
//	<root>/<project>/<subject>/<session>/<file or dataset dir>
//
// Summary datasets live in pseudo-locations named after domain.SummaryId:
// subject summaries under <subject>/__SUMMARY__/, visit summaries under
// __SUMMARY__/<visit>/ and project summaries under __SUMMARY__/__SUMMARY__/.
package local

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nialab/neuropipe/pkg/domain"
	"github.com/nialab/neuropipe/pkg/domain/format"
)

type Archive struct {
	root   string
	logger *log.Logger
}

var _ domain.Archive = (*Archive)(nil)

type Option func(*Archive) *Archive

func WithLogger(l *log.Logger) Option {
	return func(a *Archive) *Archive {
		a.logger = l
		return a
	}
}

// New opens (or creates) an archive rooted at dir.
func New(dir string, options ...Option) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive root '%s': %w", dir, err)
	}
	a := &Archive{
		root:   dir,
		logger: log.New(io.Discard, "", log.LstdFlags),
	}
	for _, opt := range options {
		a = opt(a)
	}
	return a, nil
}

func (a *Archive) projectDir(projectId string) string {
	return filepath.Join(a.root, projectId)
}

func (a *Archive) sessionDir(projectId, subjectId, sessionId string) string {
	return filepath.Join(a.root, projectId, subjectId, sessionId)
}

// Project walks the tree fresh on every call. Entries are returned sorted by
// id so that runs over the same archive state iterate identically.
func (a *Archive) Project(ctx context.Context, projectId string, filter domain.ProjectFilter) (*domain.Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pdir := a.projectDir(projectId)
	subjEntries, err := os.ReadDir(pdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("project '%s' is not archived under %s", projectId, a.root)
		}
		return nil, err
	}

	project := &domain.Project{Id: projectId}
	for _, se := range subjEntries {
		if !se.IsDir() {
			continue
		}
		if se.Name() == domain.SummaryId {
			// project- and visit-level summaries
			sumSessions, err := os.ReadDir(filepath.Join(pdir, se.Name()))
			if err != nil {
				return nil, err
			}
			for _, ss := range sumSessions {
				if !ss.IsDir() || ss.Name() != domain.SummaryId {
					continue
				}
				names, err := listDatasets(filepath.Join(pdir, se.Name(), ss.Name()))
				if err != nil {
					return nil, err
				}
				project.DatasetNames = names
			}
			continue
		}
		if !filter.AdmitsSubject(se.Name()) {
			continue
		}

		subject := &domain.Subject{Id: se.Name()}
		sessEntries, err := os.ReadDir(filepath.Join(pdir, se.Name()))
		if err != nil {
			return nil, err
		}
		for _, ce := range sessEntries {
			if !ce.IsDir() {
				continue
			}
			names, err := listDatasets(filepath.Join(pdir, se.Name(), ce.Name()))
			if err != nil {
				return nil, err
			}
			if ce.Name() == domain.SummaryId {
				subject.DatasetNames = names
				continue
			}
			if !filter.AdmitsSession(ce.Name()) {
				continue
			}
			session := &domain.Session{
				Id:           ce.Name(),
				DatasetNames: names,
				Subject:      subject,
			}
			subject.Sessions = append(subject.Sessions, session)
		}
		sort.Slice(subject.Sessions, func(i, j int) bool {
			return subject.Sessions[i].Id < subject.Sessions[j].Id
		})
		project.Subjects = append(project.Subjects, subject)
	}
	sort.Slice(project.Subjects, func(i, j int) bool {
		return project.Subjects[i].Id < project.Subjects[j].Id
	})
	return project, nil
}

// listDatasets names each entry by its stem: directories as-is, files with
// the extension stripped. Compound extensions like .nii.gz strip as a whole.
func listDatasets(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := []string{}
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
			continue
		}
		names = append(names, stemOf(e.Name()))
	}
	sort.Strings(names)
	return names, nil
}

func stemOf(filename string) string {
	if strings.HasSuffix(filename, ".nii.gz") {
		return strings.TrimSuffix(filename, ".nii.gz")
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// DatasetPath is the on-disk location of one archived dataset. Ids are taken
// as-is; summary locations are addressed by their pseudo-ids.
func (a *Archive) DatasetPath(projectId, subjectId, sessionId string, f format.Format, archivedName string) string {
	return filepath.Join(a.sessionDir(projectId, subjectId, sessionId), f.FileName(archivedName))
}

// datasetPath places one archived dataset for a unit, mapping summary scopes
// onto their pseudo-ids.
func (a *Archive) datasetPath(
	projectId, subjectId, sessionId string,
	mult domain.Multiplicity, f format.Format, archivedName string,
) string {
	switch mult {
	case domain.PerSubject:
		sessionId = domain.SummaryId
	case domain.PerVisit:
		subjectId = domain.SummaryId
	case domain.PerProject:
		subjectId, sessionId = domain.SummaryId, domain.SummaryId
	}
	return a.DatasetPath(projectId, subjectId, sessionId, f, archivedName)
}

func (a *Archive) Source(ctx context.Context, projectId string, specs []domain.SourceSpec, studyName string) (domain.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &source{archive: a, projectId: projectId, specs: specs}, nil
}

type source struct {
	archive   *Archive
	projectId string
	specs     []domain.SourceSpec
}

func (s *source) Fetch(ctx context.Context, subjectId string, sessionId string) (map[string]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found := map[string]string{}
	for _, spec := range s.specs {
		path := s.archive.datasetPath(
			s.projectId, subjectId, sessionId,
			spec.Multiplicity, spec.Format, spec.ArchivedName,
		)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf(
				"dataset '%s' (archived as '%s') is not at %s: %w",
				spec.SpecName, spec.ArchivedName, path, err,
			)
		}
		found[spec.SpecName] = path
	}
	return found, nil
}

func (a *Archive) Sink(ctx context.Context, projectId string, specs []domain.SinkSpec, multiplicity domain.Multiplicity, studyName string, description string) (domain.Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &sink{
		archive:      a,
		projectId:    projectId,
		specs:        specs,
		multiplicity: multiplicity,
	}, nil
}

type sink struct {
	archive      *Archive
	projectId    string
	specs        []domain.SinkSpec
	multiplicity domain.Multiplicity
}

func (s *sink) Store(ctx context.Context, subjectId string, sessionId string, files map[string]string) (stored []string, missing []string, err error) {
	for _, spec := range s.specs {
		if err := ctx.Err(); err != nil {
			return stored, missing, err
		}
		src, ok := files[spec.SpecName]
		if !ok {
			missing = append(missing, spec.SpecName)
			continue
		}
		dest := s.archive.datasetPath(
			s.projectId, subjectId, sessionId,
			s.multiplicity, spec.Format, spec.ArchivedName,
		)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return stored, missing, err
		}
		if err := copyTree(src, dest); err != nil {
			return stored, missing, fmt.Errorf(
				"storing dataset '%s' at %s: %w", spec.SpecName, dest, err,
			)
		}
		stored = append(stored, spec.SpecName)
	}
	return stored, missing, nil
}

// copyTree copies a file, or a directory recursively, replacing dest.
func copyTree(src string, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dest, info.Mode())
	}

	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dest, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src string, dest string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
