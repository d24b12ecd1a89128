package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/adapter"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/chat"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// assistantFlags are shared by ask and chat
func assistantFlags(sessionID *string, learn, touch *bool) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "session",
			Aliases:     []string{"s"},
			Usage:       "Session ID to resume from the archive bucket",
			Sources:     cli.EnvVars("RECALL_SESSION"),
			Destination: sessionID,
		},
		&cli.BoolFlag{
			Name:        "learn",
			Usage:       "Extract and store preferences and facts from each exchange",
			Value:       true,
			Sources:     cli.EnvVars("RECALL_LEARN"),
			Destination: learn,
		},
		&cli.BoolFlag{
			Name:        "touch",
			Usage:       "Refresh the recency of memories used in an answer",
			Sources:     cli.EnvVars("RECALL_TOUCH"),
			Destination: touch,
		},
	}
}

func askCommand() *cli.Command {
	var (
		cfg       config
		question  string
		sessionID string
		learn     bool
		touch     bool
		verbose   bool
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "question",
			Aliases:     []string{"q"},
			Usage:       "Question to answer from memory",
			Destination: &question,
			Required:    true,
		},
		&cli.BoolFlag{
			Name:        "verbose",
			Aliases:     []string{"v"},
			Usage:       "Show the memories used for the answer",
			Destination: &verbose,
		},
	}
	flags = append(flags, assistantFlags(&sessionID, &learn, &touch)...)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "ask",
		Usage: "Answer a single question from memory",
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

			answer, err := assistant.Ask(ctx, sess, question)
			if err != nil {
				return goerr.Wrap(err, "failed to answer question")
			}

			w := c.Root().Writer
			fmt.Fprintln(w, answer.Text)
			if verbose {
				printSources(w, answer)
			}
			return nil
		},
	}
}

func (a *app) assistantOptions(learn, touch bool) []chat.Option {
	opts := []chat.Option{chat.WithTouch(touch)}
	if learn && a.extractor != nil {
		opts = append(opts, chat.WithLearning(a.extractor))
	}
	return opts
}

// openSession resumes id from storage, or starts a new session. An unknown id starts a new
// session under that id.
func openSession(ctx context.Context, storage adapter.Storage, id string) (*chat.Session, error) {
	sess := chat.NewSession()
	if id == "" {
		return sess, nil
	}
	sess.ID = model.SessionID(id)
	if storage == nil {
		logging.From(ctx).Warn("no archive bucket configured, starting a fresh session", "session_id", id)
		return sess, nil
	}

	restored, err := chat.LoadSession(ctx, storage, sess.ID)
	if errors.Is(err, adapter.ErrObjectNotFound) {
		return sess, nil
	}
	if err != nil {
		return nil, err
	}
	return restored, nil
}

func printSources(w io.Writer, answer *chat.Answer) {
	fmt.Fprintln(w)
	for i, m := range answer.Result.Memories {
		fmt.Fprintf(w, "[%d] score=%.3f similarity=%.3f %s %s\n", i+1, m.Score, m.Similarity, formatCreatedAt(m.Memory), m.Memory.Source)
	}
	if answer.Result.HadFailures() {
		fmt.Fprintf(w, "warning: %d of %d queries failed\n", answer.Result.FailedQueries, answer.Result.Queries)
	}
	if answer.Learned != nil {
		fmt.Fprintf(w, "learned: %d memories\n", answer.Learned.VectorUpserts+answer.Learned.DurableUpserts)
	}
}

func formatCreatedAt(m *model.Memory) string {
	if m.CreatedAt.IsZero() {
		return "----------"
	}
	return m.CreatedAt.Format("2006-01-02")
}
