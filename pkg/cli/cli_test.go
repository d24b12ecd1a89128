package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/urfave/cli/v3"
)

func runCommand(t *testing.T, cmd *cli.Command, args ...string) string {
	t.Helper()
	var buf bytes.Buffer
	root := &cli.Command{
		Name:     "recall",
		Writer:   &buf,
		Commands: []*cli.Command{cmd},
	}
	gt.NoError(t, root.Run(context.Background(), append([]string{"recall", cmd.Name}, args...)))
	return buf.String()
}

func offlineArgs(dataDir string) []string {
	return []string{
		"--embedder", "hash",
		"--generator", "none",
		"--embedding-dim", "64",
		"--max-queries", "1",
		"--data-dir", dataDir,
		"--log-level", "error",
	}
}

func TestApplyConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("alpha: 0.8\nhalf-life-days: 7\nnamespace: work\nembed-timeout: 3s\n"), 0644))

	var cfg config
	cmd := &cli.Command{
		Name:  "probe",
		Flags: allFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			return applyConfigFile(c, cfg.configFile)
		},
	}
	runCommand(t, cmd, "--config", path, "--namespace", "home")

	gt.Equal(t, cfg.alpha, 0.8)
	gt.Equal(t, cfg.halfLifeDays, 7.0)
	gt.Equal(t, cfg.namespace, "home")
	gt.Equal(t, cfg.embedTimeout.Seconds(), 3.0)
	gt.Equal(t, cfg.kFinal, int64(8))
}

func TestApplyConfigFileMissing(t *testing.T) {
	var cfg config
	cmd := &cli.Command{
		Name:  "probe",
		Flags: allFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			return applyConfigFile(c, filepath.Join(t.TempDir(), "missing.yaml"))
		},
	}
	root := &cli.Command{Name: "recall", Commands: []*cli.Command{cmd}}
	gt.Error(t, root.Run(context.Background(), []string{"recall", "probe"}))
}

func TestRememberSearchForgetOffline(t *testing.T) {
	dataDir := t.TempDir()

	out := runCommand(t, rememberCommand(), append(offlineArgs(dataDir),
		"--content", "prefers mountain hiking on weekends",
		"--type", "preference",
	)...)
	gt.S(t, out).Contains("vector")

	out = runCommand(t, searchCommand(), append(offlineArgs(dataDir), "--query", "mountain hiking")...)
	gt.S(t, out).Contains("prefers mountain hiking on weekends")
	gt.S(t, out).Contains("preference")

	runCommand(t, forgetCommand(), append(offlineArgs(dataDir), "--all", "--target", "vector")...)

	out = runCommand(t, searchCommand(), append(offlineArgs(dataDir), "--query", "mountain hiking")...)
	gt.S(t, out).NotContains("prefers mountain hiking on weekends")
}

func TestIngestOffline(t *testing.T) {
	dataDir := t.TempDir()
	notes := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(notes, "2024-04-01-garden.md"), []byte("# Garden\nPlant tomatoes in May.\n"), 0644))

	out := runCommand(t, ingestCommand(), append(offlineArgs(dataDir), notes)...)
	gt.S(t, out).Contains("Ingested 1 documents, 1 chunks")

	out = runCommand(t, searchCommand(), append(offlineArgs(dataDir), "--query", "tomatoes")...)
	gt.S(t, out).Contains("Plant tomatoes in May.")
	gt.S(t, out).Contains("2024-04-01")
}

func TestAskRequiresGenerator(t *testing.T) {
	root := &cli.Command{Name: "recall", Writer: &bytes.Buffer{}, Commands: []*cli.Command{askCommand()}}
	args := append([]string{"recall", "ask"}, offlineArgs(t.TempDir())...)
	gt.Error(t, root.Run(context.Background(), append(args, "--question", "anything?")))
}
