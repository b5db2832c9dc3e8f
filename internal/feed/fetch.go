package feed

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Source is one entry of feeds.yaml: where a topic's posts come from and how
// its page looks.
type Source struct {
	Topic  string `yaml:"topic"`
	Source string `yaml:"source"`
	Format Format `yaml:"format"`
	Page   `yaml:",inline"`
}

type sourcesFile struct {
	Feeds []Source `yaml:"feeds"`
}

func LoadSources(fsys fs.FS, name string) ([]Source, error) {
	b, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", name)
	}
	var sf sourcesFile
	if err := yaml.Unmarshal(b, &sf); err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	for i, s := range sf.Feeds {
		if s.Topic == "" || s.Source == "" {
			return nil, errors.Errorf("%s: feed %d needs a topic and a source", name, i)
		}
		switch s.Layout {
		case "", LayoutPosts, LayoutCompact:
		default:
			return nil, errors.Errorf("%s: feed %s has unknown layout %q", name, s.Topic, s.Layout)
		}
		if s.Title == "" {
			sf.Feeds[i].Title = s.Topic
		}
	}
	return sf.Feeds, nil
}

const maxFeedBytes = 5 << 20

type FetcherConfig struct {
	Timeout     time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// BaseDir resolves relative file sources.
	BaseDir string
}

// Fetcher reads feeds from http(s) URLs or local files.
type Fetcher struct {
	httpClient  *http.Client
	maxAttempts int
	baseDelay   time.Duration
	baseDir     string
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	return &Fetcher{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		maxAttempts: cfg.MaxAttempts,
		baseDelay:   cfg.BaseDelay,
		baseDir:     cfg.BaseDir,
	}
}

// Build fetches src and renders its page. A feed without items is an error
// so a broken feed never replaces a good page.
func (f *Fetcher) Build(ctx context.Context, src Source) (string, error) {
	data, err := f.Fetch(ctx, src.Source)
	if err != nil {
		return "", err
	}
	items, err := Parse(data, src.Format)
	if err != nil {
		return "", errors.Wrapf(err, "feed %s", src.Topic)
	}
	if len(items) == 0 {
		return "", errors.Errorf("feed %s: no items found", src.Topic)
	}
	log.Info().Str("topic", src.Topic).Int("items", len(items)).Msg("feed parsed")
	return src.Page.Markdown(items), nil
}

func (f *Fetcher) Fetch(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		return f.fetchURL(ctx, source)
	}
	path := source
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.baseDir, filepath.FromSlash(source))
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read feed %s", source)
	}
	return b, nil
}

func (f *Fetcher) fetchURL(ctx context.Context, url string) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.baseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0

	var body []byte
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/feed+json, application/json, application/rss+xml, application/xml;q=0.9")
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return errors.Wrapf(err, "fetch %s", url)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("fetch %s: %s", url, resp.Status)
			if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
				return err
			}
			return backoff.Permanent(err)
		}
		body, err = io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
		return errors.Wrapf(err, "read %s", url)
	}
	notify := func(err error, wait time.Duration) {
		log.Warn().Err(err).Dur("retry_in", wait).Msg("feed fetch failed")
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxAttempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// WriteFile replaces path with data through a temp file and rename.
func WriteFile(path string, data string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(data), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
