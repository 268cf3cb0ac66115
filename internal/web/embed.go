// Package web serves the built valuation desk dashboard next to the API.
package web

import (
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/labstack/echo/v4"
)

// DirFS returns the dashboard build at dir, or nil when dir has no
// index.html.
func DirFS(dir string) fs.FS {
	if dir == "" {
		return nil
	}
	fsys := os.DirFS(dir)
	if !HasIndex(fsys) {
		return nil
	}
	return fsys
}

// HasIndex reports whether fsys holds a dashboard build.
func HasIndex(fsys fs.FS) bool {
	if fsys == nil {
		return false
	}
	info, err := fs.Stat(fsys, "index.html")
	return err == nil && !info.IsDir()
}

// RegisterStaticRoutes serves fsys for every non-API path. Unknown paths
// get index.html so the dashboard router can handle them.
// The API routes should be registered before calling this function.
func RegisterStaticRoutes(e *echo.Echo, fsys fs.FS) {
	fileServer := http.FileServer(http.FS(fsys))

	e.GET("/*", func(c echo.Context) error {
		requestPath := path.Clean(c.Request().URL.Path)
		if requestPath == "/api" || strings.HasPrefix(requestPath, "/api/") {
			return echo.ErrNotFound
		}

		name := strings.TrimPrefix(requestPath, "/")
		if name == "" {
			return serveIndexHTML(c, fsys)
		}

		info, err := fs.Stat(fsys, name)
		if err != nil || info.IsDir() {
			return serveIndexHTML(c, fsys)
		}

		fileServer.ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

// serveIndexHTML serves the main index.html for SPA routing
func serveIndexHTML(c echo.Context, fsys fs.FS) error {
	indexFile, err := fsys.Open("index.html")
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "index.html not found")
	}
	defer indexFile.Close()

	content, err := io.ReadAll(indexFile)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read index.html")
	}

	return c.HTMLBlob(http.StatusOK, content)
}
