package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// config holds configuration values
type config struct {
	// Global
	configFile string
	logLevel   string
	logFormat  string
	logOutput  string

	// Storage
	backend     string
	dataDir     string
	namespace   string
	project     string
	database    string
	durable     bool
	policyDir   string
	bucket      string
	auditSet    string
	auditTable  string
	concurrency int64

	// LLM
	embedder        string
	generator       string
	geminiProject   string
	geminiLocation  string
	geminiModel     string
	embeddingModel  string
	embeddingDim    int64
	embedRPS        float64
	embedCacheMB    int64
	anthropicAPIKey string
	claudeModel     string

	// Retrieval
	kPerQuery       int64
	kFinal          int64
	maxQueries      int64
	halfLifeDays    float64
	alpha           float64
	floor           float64
	embedTimeout    time.Duration
	indexTimeout    time.Duration
	noTimeWeighting bool
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".recall"
	}
	return filepath.Join(home, ".recall")
}

// globalFlags returns common flags used across commands with destination config
func globalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "YAML file supplying defaults for flags that are not set",
			Sources:     cli.EnvVars("RECALL_CONFIG"),
			Destination: &cfg.configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "Log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     cli.EnvVars("RECALL_LOG_LEVEL"),
			Destination: &cfg.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "Log format (console, json)",
			Value:       "console",
			Sources:     cli.EnvVars("RECALL_LOG_FORMAT"),
			Destination: &cfg.logFormat,
		},
		&cli.StringFlag{
			Name:        "log-output",
			Usage:       "Log destination (stderr, stdout or a file path)",
			Value:       "stderr",
			Sources:     cli.EnvVars("RECALL_LOG_OUTPUT"),
			Destination: &cfg.logOutput,
		},
	}
}

// storageFlags returns flags for the vector index and archives
func storageFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "backend",
			Usage:       "Vector index backend (memory, firestore)",
			Value:       "memory",
			Sources:     cli.EnvVars("RECALL_BACKEND"),
			Destination: &cfg.backend,
		},
		&cli.StringFlag{
			Name:        "data-dir",
			Usage:       "Directory of the memory backend. Empty keeps the index in memory only",
			Value:       defaultDataDir(),
			Sources:     cli.EnvVars("RECALL_DATA_DIR"),
			Destination: &cfg.dataDir,
		},
		&cli.StringFlag{
			Name:        "namespace",
			Aliases:     []string{"n"},
			Usage:       "Collection name that isolates one set of memories",
			Value:       "memories",
			Sources:     cli.EnvVars("RECALL_NAMESPACE"),
			Destination: &cfg.namespace,
		},
		&cli.StringFlag{
			Name:        "project",
			Aliases:     []string{"p"},
			Usage:       "Google Cloud project ID",
			Sources:     cli.EnvVars("GOOGLE_CLOUD_PROJECT"),
			Destination: &cfg.project,
		},
		&cli.StringFlag{
			Name:        "database",
			Aliases:     []string{"d"},
			Usage:       "Firestore database ID",
			Value:       "(default)",
			Sources:     cli.EnvVars("FIRESTORE_DATABASE_ID"),
			Destination: &cfg.database,
		},
		&cli.BoolFlag{
			Name:        "durable",
			Usage:       "Keep permanent copies of core memories (firestore backend only)",
			Value:       true,
			Sources:     cli.EnvVars("RECALL_DURABLE"),
			Destination: &cfg.durable,
		},
		&cli.StringFlag{
			Name:        "policy-dir",
			Usage:       "Directory of Rego files overriding the built-in routing policy",
			Sources:     cli.EnvVars("RECALL_POLICY_DIR"),
			Destination: &cfg.policyDir,
		},
		&cli.StringFlag{
			Name:        "bucket",
			Usage:       "Cloud Storage bucket for chat session archives",
			Sources:     cli.EnvVars("RECALL_BUCKET"),
			Destination: &cfg.bucket,
		},
		&cli.StringFlag{
			Name:        "audit-dataset",
			Usage:       "BigQuery dataset for retrieval audit records",
			Sources:     cli.EnvVars("RECALL_AUDIT_DATASET"),
			Destination: &cfg.auditSet,
		},
		&cli.StringFlag{
			Name:        "audit-table",
			Usage:       "BigQuery table for retrieval audit records",
			Value:       "retrievals",
			Sources:     cli.EnvVars("RECALL_AUDIT_TABLE"),
			Destination: &cfg.auditTable,
		},
		&cli.IntFlag{
			Name:        "concurrency",
			Usage:       "Maximum parallel embedding and index calls",
			Value:       4,
			Sources:     cli.EnvVars("RECALL_CONCURRENCY"),
			Destination: &cfg.concurrency,
		},
	}
}

// llmFlags returns flags for LLM-related configuration with destination config
func llmFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "embedder",
			Usage:       "Embedding backend (gemini, hash)",
			Value:       "gemini",
			Sources:     cli.EnvVars("RECALL_EMBEDDER"),
			Destination: &cfg.embedder,
		},
		&cli.StringFlag{
			Name:        "generator",
			Usage:       "Answer generator (gemini, claude, none)",
			Value:       "gemini",
			Sources:     cli.EnvVars("RECALL_GENERATOR"),
			Destination: &cfg.generator,
		},
		&cli.StringFlag{
			Name:        "gemini-project",
			Usage:       "Google Cloud project ID for Gemini",
			Sources:     cli.EnvVars("GEMINI_PROJECT_ID"),
			Destination: &cfg.geminiProject,
		},
		&cli.StringFlag{
			Name:        "gemini-location",
			Usage:       "Google Cloud location for Gemini",
			Value:       "us-central1",
			Sources:     cli.EnvVars("GEMINI_LOCATION"),
			Destination: &cfg.geminiLocation,
		},
		&cli.StringFlag{
			Name:        "gemini-model",
			Usage:       "Gemini model for generation, expansion and extraction",
			Value:       "gemini-2.5-flash",
			Sources:     cli.EnvVars("GEMINI_MODEL"),
			Destination: &cfg.geminiModel,
		},
		&cli.StringFlag{
			Name:        "embedding-model",
			Usage:       "Gemini embedding model",
			Value:       "gemini-embedding-001",
			Sources:     cli.EnvVars("GEMINI_EMBEDDING_MODEL"),
			Destination: &cfg.embeddingModel,
		},
		&cli.IntFlag{
			Name:        "embedding-dim",
			Usage:       "Embedding dimensions",
			Value:       768,
			Sources:     cli.EnvVars("RECALL_EMBEDDING_DIM"),
			Destination: &cfg.embeddingDim,
		},
		&cli.FloatFlag{
			Name:        "embed-rps",
			Usage:       "Embedding requests per second (0 for unlimited)",
			Value:       10,
			Sources:     cli.EnvVars("RECALL_EMBED_RPS"),
			Destination: &cfg.embedRPS,
		},
		&cli.IntFlag{
			Name:        "embed-cache-mb",
			Usage:       "Embedding cache size in MB (0 disables the cache)",
			Value:       32,
			Sources:     cli.EnvVars("RECALL_EMBED_CACHE_MB"),
			Destination: &cfg.embedCacheMB,
		},
		&cli.StringFlag{
			Name:        "anthropic-api-key",
			Usage:       "Anthropic API key",
			Sources:     cli.EnvVars("ANTHROPIC_API_KEY"),
			Destination: &cfg.anthropicAPIKey,
		},
		&cli.StringFlag{
			Name:        "claude-model",
			Usage:       "Claude model used when generator is claude",
			Value:       "claude-sonnet-4-5",
			Sources:     cli.EnvVars("CLAUDE_MODEL"),
			Destination: &cfg.claudeModel,
		},
	}
}

// retrievalFlags returns flags that tune the merge engine and scorer
func retrievalFlags(cfg *config) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "k-per-query",
			Usage:       "Nearest neighbors fetched per query",
			Value:       10,
			Sources:     cli.EnvVars("RECALL_K_PER_QUERY"),
			Destination: &cfg.kPerQuery,
		},
		&cli.IntFlag{
			Name:        "k-final",
			Aliases:     []string{"k"},
			Usage:       "Memories returned after merging",
			Value:       8,
			Sources:     cli.EnvVars("RECALL_K_FINAL"),
			Destination: &cfg.kFinal,
		},
		&cli.IntFlag{
			Name:        "max-queries",
			Usage:       "Maximum queries per question including the original (1 disables expansion)",
			Value:       4,
			Sources:     cli.EnvVars("RECALL_MAX_QUERIES"),
			Destination: &cfg.maxQueries,
		},
		&cli.FloatFlag{
			Name:        "half-life-days",
			Usage:       "Days after which recency weight halves",
			Value:       30,
			Sources:     cli.EnvVars("RECALL_HALF_LIFE_DAYS"),
			Destination: &cfg.halfLifeDays,
		},
		&cli.FloatFlag{
			Name:        "alpha",
			Usage:       "Share of raw similarity in the blended score (1 ignores recency)",
			Value:       0.5,
			Sources:     cli.EnvVars("RECALL_ALPHA"),
			Destination: &cfg.alpha,
		},
		&cli.FloatFlag{
			Name:        "decay-floor",
			Usage:       "Minimum recency weight",
			Value:       0.1,
			Sources:     cli.EnvVars("RECALL_DECAY_FLOOR"),
			Destination: &cfg.floor,
		},
		&cli.DurationFlag{
			Name:        "embed-timeout",
			Usage:       "Timeout of one embedding call",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("RECALL_EMBED_TIMEOUT"),
			Destination: &cfg.embedTimeout,
		},
		&cli.DurationFlag{
			Name:        "index-timeout",
			Usage:       "Timeout of one index query",
			Value:       10 * time.Second,
			Sources:     cli.EnvVars("RECALL_INDEX_TIMEOUT"),
			Destination: &cfg.indexTimeout,
		},
		&cli.BoolFlag{
			Name:        "no-time-weighting",
			Usage:       "Rank by similarity only",
			Sources:     cli.EnvVars("RECALL_NO_TIME_WEIGHTING"),
			Destination: &cfg.noTimeWeighting,
		},
	}
}

// allFlags returns every configuration flag in display order
func allFlags(cfg *config) []cli.Flag {
	var flags []cli.Flag
	flags = append(flags, globalFlags(cfg)...)
	flags = append(flags, storageFlags(cfg)...)
	flags = append(flags, llmFlags(cfg)...)
	flags = append(flags, retrievalFlags(cfg)...)
	return flags
}

// setup applies the config file and installs the logger into ctx
func (cfg *config) setup(ctx context.Context, c *cli.Command) (context.Context, error) {
	if err := applyConfigFile(c, cfg.configFile); err != nil {
		return nil, err
	}

	var w io.Writer
	switch cfg.logOutput {
	case "", "stderr":
		w = os.Stderr
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.logOutput, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open log file",
				goerr.V("path", cfg.logOutput),
				goerr.T(model.ErrTagConfig))
		}
		w = f
	}

	if _, err := logging.ParseLevel(cfg.logLevel); err != nil {
		return nil, goerr.Wrap(err, "invalid log level", goerr.T(model.ErrTagConfig))
	}

	var opts []logging.Option
	switch cfg.logFormat {
	case "", "console":
	case "json":
		opts = append(opts, logging.WithJSON())
	default:
		return nil, goerr.New("invalid log format",
			goerr.V("format", cfg.logFormat),
			goerr.T(model.ErrTagConfig))
	}

	logger := logging.New(cfg.logLevel, w, opts...)
	logging.SetDefault(logger)
	return logging.With(ctx, logger), nil
}

// applyConfigFile sets every flag that was not given on the command line or environment
// from the YAML file at path. Keys are flag names.
func applyConfigFile(c *cli.Command, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return goerr.Wrap(err, "failed to read config file",
			goerr.V("path", path),
			goerr.T(model.ErrTagConfig))
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return goerr.Wrap(err, "failed to parse config file",
			goerr.V("path", path),
			goerr.T(model.ErrTagConfig))
	}

	for _, flag := range c.Flags {
		names := flag.Names()
		if len(names) == 0 || c.IsSet(names[0]) {
			continue
		}
		v, ok := values[names[0]]
		if !ok {
			continue
		}
		if err := c.Set(names[0], fmt.Sprint(v)); err != nil {
			return goerr.Wrap(err, "invalid value in config file",
				goerr.V("path", path),
				goerr.V("flag", names[0]),
				goerr.T(model.ErrTagConfig))
		}
	}
	return nil
}
