// Package remote archives projects through a neuropipe archive service
// (cmd/archived) over HTTP.
//
// Fetched datasets are materialized under a local cache root so that graph
// nodes can keep working with plain file paths.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	apierr "github.com/nialab/neuropipe/pkg/api/types/errors"
	"github.com/nialab/neuropipe/pkg/api/types/inventory"
	"github.com/nialab/neuropipe/pkg/domain"
	"github.com/nialab/neuropipe/pkg/domain/format"
	"github.com/nialab/neuropipe/pkg/utils/tarball"
)

// Content type of directory datasets in transit.
const MimeTarGz = tarball.MimeTarGz

type Archive struct {
	endpoint  *url.URL
	token     string
	cacheRoot string
	client    *http.Client
}

var _ domain.Archive = (*Archive)(nil)

type Option func(*Archive) *Archive

// WithToken sends token as a bearer credential on every request.
func WithToken(token string) Option {
	return func(a *Archive) *Archive {
		a.token = token
		return a
	}
}

func WithClient(c *http.Client) Option {
	return func(a *Archive) *Archive {
		a.client = c
		return a
	}
}

// New points an archive client at the service api root, caching fetched
// datasets under cacheRoot.
func New(endpoint string, cacheRoot string, options ...Option) (*Archive, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("archive endpoint '%s': %w", endpoint, err)
	}
	if !u.IsAbs() || u.Hostname() == "" {
		return nil, fmt.Errorf("archive endpoint '%s' is not an absolute URL", endpoint)
	}
	if err := os.MkdirAll(cacheRoot, 0o755); err != nil {
		return nil, err
	}

	a := &Archive{
		endpoint:  u,
		cacheRoot: cacheRoot,
		client:    http.DefaultClient,
	}
	for _, opt := range options {
		a = opt(a)
	}
	return a, nil
}

func (a *Archive) apiURL(elems ...string) string {
	u := *a.endpoint
	u.Path = path.Join(append([]string{u.Path}, elems...)...)
	return u.String()
}

func (a *Archive) send(req *http.Request) (*http.Response, error) {
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}
	return a.client.Do(req)
}

// asError drains resp and converts a non-2xx status into an error, decoding
// the service's error message when there is one.
func asError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	eresp := new(apierr.ErrorResponse)
	if err := json.Unmarshal(body, eresp); err == nil && eresp.Message.Reason != "" {
		return fmt.Errorf(
			"archive service rejected the request (status code = %d): %w",
			resp.StatusCode, eresp.Message,
		)
	}
	return fmt.Errorf(
		"archive service rejected the request (status code = %d): %s",
		resp.StatusCode, string(body),
	)
}

func (a *Archive) Project(ctx context.Context, projectId string, filter domain.ProjectFilter) (*domain.Project, error) {
	u := a.apiURL("projects", projectId)
	q := url.Values{}
	for _, s := range filter.SubjectIds {
		q.Add("subject", s)
	}
	for _, s := range filter.SessionIds {
		q.Add("session", s)
	}
	if len(q) != 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, asError(resp)
	}

	var proj inventory.Project
	if err := json.NewDecoder(resp.Body).Decode(&proj); err != nil {
		return nil, fmt.Errorf("broken project listing: %w", err)
	}
	return proj.ToDomain(), nil
}

func (a *Archive) datasetURL(projectId, subjectId, sessionId, archivedName string, f format.Format) string {
	u := a.apiURL("projects", projectId, "data", subjectId, sessionId, archivedName)
	q := url.Values{}
	if f.Extension != "" {
		q.Set("ext", f.Extension)
	}
	if f.Directory {
		q.Set("dir", "true")
	}
	if len(q) != 0 {
		u += "?" + q.Encode()
	}
	return u
}

// scope maps a summary dataset onto its pseudo-ids; the service stores
// summaries the same way a local archive does.
func scope(subjectId, sessionId string, mult domain.Multiplicity) (string, string) {
	switch mult {
	case domain.PerSubject:
		return subjectId, domain.SummaryId
	case domain.PerVisit:
		return domain.SummaryId, sessionId
	case domain.PerProject:
		return domain.SummaryId, domain.SummaryId
	}
	return subjectId, sessionId
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
	a := s.archive
	found := map[string]string{}
	for _, spec := range s.specs {
		subj, sess := scope(subjectId, sessionId, spec.Multiplicity)

		dest := filepath.Join(
			a.cacheRoot, s.projectId, subj, sess, spec.Format.FileName(spec.ArchivedName),
		)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(
			ctx, http.MethodGet,
			a.datasetURL(s.projectId, subj, sess, spec.ArchivedName, spec.Format),
			nil,
		)
		if err != nil {
			return nil, err
		}
		resp, err := a.send(req)
		if err != nil {
			return nil, err
		}
		err = func() error {
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("dataset '%s' (archived as '%s'): %w",
					spec.SpecName, spec.ArchivedName, asError(resp))
			}
			if spec.Format.Directory {
				if err := os.RemoveAll(dest); err != nil {
					return err
				}
				return tarball.Untar(ctx, resp.Body, dest)
			}
			fp, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
			if err != nil {
				return err
			}
			defer fp.Close()
			_, err = io.Copy(fp, resp.Body)
			return err
		}()
		if err != nil {
			return nil, err
		}
		found[spec.SpecName] = dest
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
	subj, sess := scope(subjectId, sessionId, s.multiplicity)

	for _, spec := range s.specs {
		src, ok := files[spec.SpecName]
		if !ok {
			missing = append(missing, spec.SpecName)
			continue
		}
		if err := s.upload(ctx, subj, sess, spec, src); err != nil {
			return stored, missing, fmt.Errorf("storing dataset '%s': %w", spec.SpecName, err)
		}
		stored = append(stored, spec.SpecName)
	}
	return stored, missing, nil
}

func (s *sink) upload(ctx context.Context, subj, sess string, spec domain.SinkSpec, src string) error {
	a := s.archive

	var body io.Reader
	contentType := "application/octet-stream"
	if spec.Format.Directory {
		pr, pw := io.Pipe()
		go func() {
			pw.CloseWithError(tarball.Tar(ctx, src, pw))
		}()
		body = pr
		contentType = MimeTarGz
	} else {
		fp, err := os.Open(src)
		if err != nil {
			return err
		}
		defer fp.Close()
		body = fp
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPut,
		a.datasetURL(s.projectId, subj, sess, spec.ArchivedName, spec.Format),
		body,
	)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := a.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return asError(resp)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}
