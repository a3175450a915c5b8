package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/labstack/echo/v4"

	apierr "github.com/nialab/neuropipe/pkg/api/types/errors"
	"github.com/nialab/neuropipe/pkg/api/types/inventory"
	"github.com/nialab/neuropipe/pkg/archive/local"
	"github.com/nialab/neuropipe/pkg/domain"
	"github.com/nialab/neuropipe/pkg/domain/format"
	"github.com/nialab/neuropipe/pkg/utils/tarball"
)

// Endpoints exposes one local archive over the wire api:
//
//	GET /api/projects/:projectId              project listing
//	GET /api/projects/:projectId/data/...     dataset download
//	PUT /api/projects/:projectId/data/...     dataset upload
func Endpoints(a *local.Archive) []Endpoint {
	const dataPath = "/api/projects/:projectId/data/:subjectId/:sessionId/:name"
	return []Endpoint{
		{http.MethodGet, "/api/projects/:projectId", ProjectHandler(a)},
		{http.MethodGet, dataPath, GetDataHandler(a)},
		{http.MethodPut, dataPath, PutDataHandler(a)},
	}
}

func ProjectHandler(a *local.Archive) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		filter := domain.ProjectFilter{}
		if subjects, ok := c.QueryParams()["subject"]; ok {
			filter.SubjectIds = subjects
		}
		if sessions, ok := c.QueryParams()["session"]; ok {
			filter.SessionIds = sessions
		}

		proj, err := a.Project(ctx, c.Param("projectId"), filter)
		if err != nil {
			if os.IsNotExist(err) || strings.Contains(err.Error(), "is not archived") {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}
		return c.JSON(http.StatusOK, inventory.FromDomain(proj))
	}
}

// datasetFormat rebuilds enough of the format from query params to locate
// the file. Only extension and directory-ness matter for addressing.
func datasetFormat(c echo.Context) format.Format {
	return format.Format{
		Extension: c.QueryParam("ext"),
		Directory: c.QueryParam("dir") == "true",
	}
}

func resolvePath(a *local.Archive, c echo.Context) (string, format.Format, error) {
	f := datasetFormat(c)
	name := c.Param("name")
	if name == "" || strings.ContainsAny(name, "/\\") {
		return "", f, apierr.BadRequest("dataset name is not valid", nil)
	}
	p := a.DatasetPath(
		c.Param("projectId"), c.Param("subjectId"), c.Param("sessionId"), f, name,
	)
	return p, f, nil
}

func GetDataHandler(a *local.Archive) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, f, err := resolvePath(a, c)
		if err != nil {
			return err
		}

		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				return apierr.NotFound()
			}
			return apierr.InternalServerError(err)
		}

		if f.Directory {
			if !info.IsDir() {
				return apierr.BadRequest("dataset is not a directory", nil)
			}
			c.Response().Header().Set(echo.HeaderContentType, tarball.MimeTarGz)
			c.Response().WriteHeader(http.StatusOK)
			return tarball.Tar(c.Request().Context(), p, c.Response())
		}
		if info.IsDir() {
			return apierr.BadRequest("dataset is a directory. pass dir=true", nil)
		}
		return c.File(p)
	}
}

func PutDataHandler(a *local.Archive) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		p, f, err := resolvePath(a, c)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return apierr.InternalServerError(err)
		}

		body := c.Request().Body
		defer body.Close()

		if f.Directory {
			if ct := c.Request().Header.Get(echo.HeaderContentType); ct != tarball.MimeTarGz {
				return apierr.BadRequest(
					fmt.Sprintf("directory datasets are sent as %s", tarball.MimeTarGz), nil,
				)
			}
			if err := os.RemoveAll(p); err != nil {
				return apierr.InternalServerError(err)
			}
			if err := tarball.Untar(ctx, body, p); err != nil {
				return apierr.BadRequest("broken tar.gz payload", err)
			}
		} else {
			err := func() error {
				fp, err := os.OpenFile(p, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
				if err != nil {
					return err
				}
				defer fp.Close()
				_, err = io.Copy(fp, body)
				return err
			}()
			if err != nil {
				return apierr.InternalServerError(err)
			}
		}

		return c.JSON(http.StatusCreated, map[string]string{
			"stored": c.Param("name"),
		})
	}
}
