package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func forgetCommand() *cli.Command {
	var (
		cfg    config
		ids    []string
		all    bool
		target string
	)

	flags := []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "id",
			Usage:       "Memory ID to delete (repeatable)",
			Destination: &ids,
		},
		&cli.BoolFlag{
			Name:        "all",
			Usage:       "Delete every memory of the target",
			Destination: &all,
		},
		&cli.StringFlag{
			Name:        "target",
			Usage:       "Backends to delete from (all, vector, durable)",
			Value:       string(memory.TargetAll),
			Destination: &target,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "forget",
		Usage: "Delete memories",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			t, err := memory.ParseTarget(target)
			if err != nil {
				return err
			}
			if !all && len(ids) == 0 {
				return goerr.New("--id or --all is required", goerr.T(model.ErrTagValidation))
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			w := c.Root().Writer
			if all {
				if err := a.memories.DeleteAll(ctx, t); err != nil {
					return err
				}
				fmt.Fprintf(w, "Deleted all memories (%s)\n", t)
				return nil
			}

			memIDs := make([]model.MemoryID, len(ids))
			for i, id := range ids {
				memIDs[i] = model.MemoryID(id)
			}
			summary, err := a.memories.Delete(ctx, memIDs, t)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "Deleted %d from vector index, %d from durable store\n", summary.VectorDeletes, summary.DurableDeletes)
			return nil
		},
	}
}
