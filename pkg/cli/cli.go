package cli

import (
	"context"

	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// Version is reported to MCP clients
var Version = "dev"

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "recall",
		Usage: "Personal memory assistant with time-weighted retrieval",
		Commands: []*cli.Command{
			ingestCommand(),
			askCommand(),
			chatCommand(),
			searchCommand(),
			learnCommand(),
			rememberCommand(),
			forgetCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		logging.Default().Error("command failed", "error", err)
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}
