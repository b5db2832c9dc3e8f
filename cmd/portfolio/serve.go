package main

import (
	"github.com/spf13/cobra"

	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/server"
)

func newServeCommand(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API and static site",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			s, err := server.NewServer(*cfg)
			if err != nil {
				return err
			}
			return s.Run(cmd.Context(), ":"+cfg.Port)
		},
	}
	cmd.Flags().StringVar(&cfg.Port, "port", cfg.Port, "HTTP port")
	cmd.Flags().StringVar(&cfg.StaticDir, "static", cfg.StaticDir, "directory of static files to serve at /")
	cmd.Flags().BoolVar(&cfg.WatchContent, "watch", cfg.WatchContent, "reload content rules when files change")
	cmd.Flags().StringVar(&cfg.Renderer, "renderer", cfg.Renderer, "markdown renderer: simple or goldmark")
	return cmd
}
