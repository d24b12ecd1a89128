package policy

import (
	"context"
	"embed"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/open-policy-agent/opa/v1/rego"
)

//go:embed builtin/*.rego
var builtinPolicies embed.FS

// loadModules reads every .rego file of policyDir. An empty policyDir selects the built-in
// policies.
func loadModules(policyDir string) ([]func(*rego.Rego), error) {
	if policyDir == "" {
		entries, err := builtinPolicies.ReadDir("builtin")
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read built-in policies")
		}
		modules := make([]func(*rego.Rego), 0, len(entries))
		for _, entry := range entries {
			name := "builtin/" + entry.Name()
			data, err := builtinPolicies.ReadFile(name)
			if err != nil {
				return nil, goerr.Wrap(err, "failed to read built-in policy", goerr.V("name", name))
			}
			modules = append(modules, rego.Module(name, string(data)))
		}
		return modules, nil
	}

	files, err := filepath.Glob(filepath.Join(policyDir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.T(model.ErrTagConfig))
	}
	if len(files) == 0 {
		return nil, goerr.New("no policy file found",
			goerr.V("dir", policyDir),
			goerr.T(model.ErrTagConfig))
	}

	modules := make([]func(*rego.Rego), 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file",
				goerr.V("path", file),
				goerr.T(model.ErrTagConfig))
		}
		modules = append(modules, rego.Module(file, string(data)))
	}
	return modules, nil
}

// prepareQuery prepares a Rego query with all loaded modules
func prepareQuery(ctx context.Context, modules []func(*rego.Rego), query string) (*rego.PreparedEvalQuery, error) {
	options := make([]func(*rego.Rego), 0, len(modules)+1)
	options = append(options, rego.Query(query))
	options = append(options, modules...)

	prepared, err := rego.New(options...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query",
			goerr.V("query", query),
			goerr.T(model.ErrTagConfig))
	}

	return &prepared, nil
}
