package content

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Watcher keeps a Matcher in step with the rules directory on disk: edits to
// the rules file reload the rule list, edits to response files drop their
// cached copies.
type Watcher struct {
	matcher      *Matcher
	rulesFile    string
	responsesDir string
	watcher      *fsnotify.Watcher
}

func NewWatcher(matcher *Matcher, rulesFile, responsesDir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	for _, dir := range []string{filepath.Dir(rulesFile), responsesDir} {
		if err := fw.Add(dir); err != nil {
			_ = fw.Close()
			return nil, errors.Wrapf(err, "watch %s", dir)
		}
	}
	return &Watcher{
		matcher:      matcher,
		rulesFile:    filepath.Clean(rulesFile),
		responsesDir: filepath.Clean(responsesDir),
		watcher:      fw,
	}, nil
}

// Run processes file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	log.Info().Str("rules", w.rulesFile).Str("responses", w.responsesDir).Msg("watching content")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("content watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Clean(ev.Name)
	switch {
	case name == w.rulesFile:
		if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
			return
		}
		rules, err := LoadRules(os.DirFS(filepath.Dir(name)), filepath.Base(name))
		if err != nil {
			log.Warn().Err(err).Msg("keeping previous content rules")
			return
		}
		w.matcher.SetRules(rules)
		w.matcher.InvalidateAll()
		log.Info().Int("rules", len(rules)).Msg("content rules reloaded")
	case filepath.Dir(name) == w.responsesDir:
		w.matcher.Invalidate(filepath.Base(name))
		log.Debug().Str("file", filepath.Base(name)).Msg("content cache entry invalidated")
	}
}
