package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func chatCommand() *cli.Command {
	var (
		cfg       config
		sessionID string
		learn     bool
		touch     bool
	)

	flags := assistantFlags(&sessionID, &learn, &touch)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "chat",
		Usage: "Interactive conversation grounded in memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			assistant, err := a.newAssistant(a.assistantOptions(learn, touch)...)
			if err != nil {
				return err
			}

			sess, err := openSession(ctx, a.storage, sessionID)
			if err != nil {
				return err
			}

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     filepath.Join(os.TempDir(), "recall_chat_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start line editor")
			}
			defer rl.Close()

			w := c.Root().Writer
			fmt.Fprintf(w, "Session %s started. Type 'exit' to quit.\n", sess.ID)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						break
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read input")
				}

				message := strings.TrimSpace(line)
				if message == "exit" || message == "quit" {
					break
				}
				if message == "" {
					continue
				}

				sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
				sp.Suffix = " thinking..."
				sp.Start()
				answer, err := assistant.Ask(ctx, sess, message)
				sp.Stop()

				if err != nil {
					if ctx.Err() != nil {
						return ctx.Err()
					}
					logging.From(ctx).Error("failed to answer", "error", err)
					continue
				}

				fmt.Fprintf(w, "%s\n\n", answer.Text)
				if answer.Result.AllFailed() {
					fmt.Fprintln(w, "(memory search is unavailable, the answer is not grounded in your notes)")
				}
			}

			fmt.Fprintf(w, "\nSession %s closed\n", sess.ID)
			return nil
		},
	}
}
