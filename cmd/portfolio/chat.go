package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"portfolio-chat-backend/internal/assistant"
	"portfolio-chat-backend/internal/config"
	"portfolio-chat-backend/internal/render"
	"portfolio-chat-backend/internal/server"
)

func newChatCommand(cfg *config.Config) *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the site from the terminal",
		Long:  "Commands: /topics, /topic <id>, /topic none, /reset, /quit. Anything else is sent as a message.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			site, err := server.LoadSite(*cfg)
			if err != nil {
				return err
			}
			tr, err := render.NewTerminal(width)
			if err != nil {
				return err
			}
			r := &repl{
				a:     site.Assistant,
				r:     tr,
				out:   cmd.OutOrStdout(),
				sid:   uuid.NewString(),
				topic: site.Assistant.DefaultTopic().ID,
			}
			return r.run(cmd.Context(), os.Stdin)
		},
	}
	cmd.Flags().IntVar(&width, "width", 80, "word wrap width")
	return cmd
}

type repl struct {
	a     *assistant.Assistant
	r     render.Renderer
	out   io.Writer
	sid   string
	topic string
}

// run reads commands and messages from in until /quit or EOF. With no topic
// selected, messages go through keyword rules and fallback phrases.
func (c *repl) run(ctx context.Context, in io.Reader) error {
	c.showTopic(c.topic)
	fmt.Fprintln(c.out, c.a.Disclaimer())

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(c.out, "\n> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/reset":
			c.a.Reset(c.sid)
			fmt.Fprintln(c.out, "Conversation cleared.")
			continue
		case line == "/topics":
			for _, t := range c.a.Topics() {
				fmt.Fprintf(c.out, "  %-10s %s\n", t.ID, t.Title)
			}
			continue
		case strings.HasPrefix(line, "/topic "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/topic "))
			if id == "none" {
				c.topic = ""
				fmt.Fprintln(c.out, "Free chat. Ask about anything.")
				continue
			}
			if _, ok := c.a.Topic(id); !ok {
				fmt.Fprintf(c.out, "No topic %q. Try /topics.\n", id)
				continue
			}
			c.topic = id
			c.showTopic(id)
			continue
		}

		reply, err := c.a.Reply(ctx, c.sid, assistant.Request{Message: line, Topic: c.topic})
		if err != nil {
			return err
		}
		c.print(reply.Text)
		for _, f := range reply.FollowUps {
			fmt.Fprintf(c.out, "  • %s\n", f)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *repl) showTopic(id string) {
	t, ok := c.a.Topic(id)
	if !ok {
		return
	}
	c.print(t.InitialMessage)
}

func (c *repl) print(markdown string) {
	out, err := c.r.Render(markdown)
	if err != nil {
		out = markdown + "\n"
	}
	fmt.Fprint(c.out, out)
}
