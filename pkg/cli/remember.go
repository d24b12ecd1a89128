package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func rememberCommand() *cli.Command {
	var (
		cfg      config
		content  string
		memType  string
		category string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "content",
			Usage:       "Statement to remember",
			Destination: &content,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "type",
			Aliases:     []string{"t"},
			Usage:       "Memory type (note, fact, preference, profile, user_core)",
			Value:       string(model.MemoryTypeNote),
			Destination: &memType,
		},
		&cli.StringFlag{
			Name:        "category",
			Usage:       "Short topic such as food or work",
			Destination: &category,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "remember",
		Usage: "Store one memory",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			t, ok := model.ParseMemoryType(memType)
			if !ok {
				return goerr.New("unknown memory type", goerr.V("type", memType), goerr.T(model.ErrTagValidation))
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			mem := &model.Memory{
				Content:  content,
				Type:     t,
				Category: category,
				Source:   model.SourceManual,
			}
			summary, err := a.memories.Store(ctx, []*model.Memory{mem})
			if err != nil {
				return err
			}

			fmt.Fprintf(c.Root().Writer, "%s\t%s\n", mem.ID, routeLabel(summary))
			return nil
		},
	}
}

func routeLabel(s *memory.RouteSummary) string {
	switch {
	case s.VectorUpserts > 0 && s.DurableUpserts > 0:
		return "vector+durable"
	case s.DurableUpserts > 0:
		return "durable"
	default:
		return "vector"
	}
}
