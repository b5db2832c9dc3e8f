package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/content"
	"portfolio-chat-backend/internal/feed"
)

func newContentCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Maintain the content directory",
	}
	cmd.AddCommand(newContentFetchCommand(cfg))
	return cmd
}

func newContentFetchCommand(cfg *config.Config) *cobra.Command {
	var (
		feedsFile string
		topic     string
		dryRun    bool
		timeout   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Regenerate topic pages from the feeds listed in feeds.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fsys := os.DirFS(cfg.ContentDir)
			catalog, err := content.LoadCatalog(fsys, "topics.yaml")
			if err != nil {
				return err
			}
			sources, err := feed.LoadSources(fsys, feedsFile)
			if err != nil {
				return err
			}

			fetcher := feed.NewFetcher(feed.FetcherConfig{Timeout: timeout, BaseDir: cfg.ContentDir})
			done := 0
			for _, src := range sources {
				if topic != "" && src.Topic != topic {
					continue
				}
				t, ok := catalog.Get(src.Topic)
				if !ok {
					return errors.Errorf("feed for unknown topic %q", src.Topic)
				}
				md, err := fetcher.Build(cmd.Context(), src)
				if err != nil {
					return err
				}
				if dryRun {
					fmt.Fprint(cmd.OutOrStdout(), md)
					done++
					continue
				}
				path := filepath.Join(cfg.ContentDir, filepath.FromSlash(t.Directory), "initialMessage.md")
				if err := feed.WriteFile(path, md); err != nil {
					return err
				}
				log.Info().Str("topic", t.ID).Str("path", path).Msg("topic page updated")
				done++
			}
			if done == 0 {
				return errors.New("no feeds matched")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&feedsFile, "feeds", "feeds.yaml", "feed list, relative to the content directory")
	cmd.Flags().StringVar(&topic, "topic", "", "only update this topic")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the pages instead of writing them")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "per-request timeout")
	return cmd
}
