package cli

import (
	"context"
	"fmt"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/ingest"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func ingestCommand() *cli.Command {
	var (
		cfg       config
		chunkSize int64
		overlap   int64
	)

	flags := []cli.Flag{
		&cli.IntFlag{
			Name:        "chunk-size",
			Usage:       "Maximum characters per chunk",
			Value:       ingest.DefaultChunkSize,
			Sources:     cli.EnvVars("RECALL_CHUNK_SIZE"),
			Destination: &chunkSize,
		},
		&cli.IntFlag{
			Name:        "chunk-overlap",
			Usage:       "Characters shared by consecutive chunks",
			Value:       ingest.DefaultChunkOverlap,
			Sources:     cli.EnvVars("RECALL_CHUNK_OVERLAP"),
			Destination: &overlap,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "ingest",
		Usage:     "Import markdown notes as memories",
		ArgsUsage: "<file-or-directory>...",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			paths := c.Args().Slice()
			if len(paths) == 0 {
				return goerr.New("at least one path is required", goerr.T(model.ErrTagValidation))
			}

			splitter, err := ingest.NewSplitter(int(chunkSize), int(overlap))
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			docs, err := ingest.LoadAll(ctx, paths)
			if err != nil {
				return goerr.Wrap(err, "failed to load markdown files")
			}

			var chunks, durable int
			for _, doc := range docs {
				memories := doc.Memories(splitter)
				if len(memories) == 0 {
					logging.From(ctx).Debug("skip empty document", "path", doc.Path)
					continue
				}

				summary, err := a.memories.Store(ctx, memories)
				if err != nil {
					return goerr.Wrap(err, "failed to store document", goerr.V("path", doc.Path))
				}
				chunks += summary.VectorUpserts
				durable += summary.DurableUpserts
				fmt.Fprintf(c.Root().Writer, "%s\t%d chunks\t%s\n", doc.Path, len(memories), doc.CreatedAt.Format("2006-01-02"))
			}

			fmt.Fprintf(c.Root().Writer, "Ingested %d documents, %d chunks (%d durable)\n", len(docs), chunks, durable)
			return nil
		},
	}
}
