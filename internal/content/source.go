package content

import (
	"context"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrInvalidName is returned for content file names that could escape the
// content directory or are not markdown.
var ErrInvalidName = errors.New("invalid content file name")

var fileNameRe = regexp.MustCompile(`^[a-zA-Z0-9-_.]+$`)

// ValidFileName reports whether name is a plain markdown file name.
func ValidFileName(name string) bool {
	return strings.HasSuffix(name, ".md") && !strings.Contains(name, "..") && fileNameRe.MatchString(name)
}

// Source fetches rule response files by name.
type Source interface {
	Fetch(ctx context.Context, name string) (string, error)
}

// FSSource reads response files from a directory inside fsys.
type FSSource struct {
	fsys fs.FS
	dir  string
}

func NewFSSource(fsys fs.FS, dir string) *FSSource {
	return &FSSource{fsys: fsys, dir: dir}
}

func (s *FSSource) Fetch(_ context.Context, name string) (string, error) {
	if !ValidFileName(name) {
		return "", errors.Wrap(ErrInvalidName, name)
	}
	b, err := fs.ReadFile(s.fsys, path.Join(s.dir, name))
	if err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return string(b), nil
}

// HTTPSource fetches response files from a static asset base URL, the way a
// browser client would load /content/responses/<name>.
type HTTPSource struct {
	base       *url.URL
	httpClient *http.Client
}

func NewHTTPSource(baseURL string, timeout time.Duration) (*HTTPSource, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, errors.Wrap(err, "parse content base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("content base url must be http(s), got %q", baseURL)
	}
	return &HTTPSource{base: u, httpClient: &http.Client{Timeout: timeout}}, nil
}

func (s *HTTPSource) Fetch(ctx context.Context, name string) (string, error) {
	if !ValidFileName(name) {
		return "", errors.Wrap(ErrInvalidName, name)
	}
	target := s.base.ResolveReference(&url.URL{Path: name})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "fetch %s", name)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Errorf("fetch %s: %s", name, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrapf(err, "read %s", name)
	}
	return string(b), nil
}
