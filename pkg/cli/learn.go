package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/urfave/cli/v3"
)

func learnCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Conversation transcript file, or - for stdin",
			Value:       "-",
			Destination: &input,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "learn",
		Usage: "Extract preferences and facts from a conversation transcript",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx, err := cfg.setup(ctx, c)
			if err != nil {
				return err
			}

			transcript, err := readInput(input)
			if err != nil {
				return err
			}

			a, err := cfg.newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.extractor == nil {
				return goerr.New("learning requires Gemini, set --gemini-project", goerr.T(model.ErrTagConfig))
			}

			extraction := a.extractor.Extract(ctx, transcript)
			summary, err := a.memories.StoreExtracted(ctx, extraction)
			if err != nil {
				return goerr.Wrap(err, "failed to store learned memories")
			}

			w := c.Root().Writer
			for _, item := range extraction.Items {
				fmt.Fprintf(w, "%s\t%s\t%s\n", item.Type, item.Category, item.Content)
			}
			fmt.Fprintf(w, "Learned %d memories (%d durable), dropped %d, coerced %d\n",
				extraction.Total(), summary.DurableUpserts, extraction.Dropped, extraction.Coerced)
			return nil
		},
	}
}

func readInput(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", goerr.Wrap(err, "failed to open input", goerr.V("path", path))
		}
		defer f.Close()
		r = f
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read input", goerr.V("path", path))
	}
	return string(data), nil
}
