package policy

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"
)

const routeQuery = "data.recall.route"

// Decision tells which backends receive a memory
type Decision struct {
	Vector  bool
	Durable bool
}

// Router evaluates the routing policy for memories being stored
type Router struct {
	query *rego.PreparedEvalQuery
}

// regoPrintHook forwards Rego print() output to the logger
type regoPrintHook struct {
	ctx context.Context
}

func (h *regoPrintHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// NewRouter compiles the policies of policyDir, or the built-in policy when it is empty. The
// policy must define package recall.route with boolean rules vector and durable.
func NewRouter(ctx context.Context, policyDir string) (*Router, error) {
	modules, err := loadModules(policyDir)
	if err != nil {
		return nil, err
	}

	query, err := prepareQuery(ctx, modules, routeQuery)
	if err != nil {
		return nil, err
	}
	return &Router{query: query}, nil
}

// Route decides the destinations of mem
func (r *Router) Route(ctx context.Context, mem *model.Memory) (*Decision, error) {
	metadata := mem.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	input := map[string]any{
		"id":       string(mem.ID),
		"type":     string(mem.Type),
		"category": mem.Category,
		"source":   mem.Source,
		"metadata": metadata,
	}

	rs, err := r.query.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&regoPrintHook{ctx: ctx}))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to evaluate route policy", goerr.V("id", mem.ID))
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil, goerr.New("route policy returned no result", goerr.V("id", mem.ID))
	}

	data, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return nil, goerr.New("unexpected route policy result",
			goerr.V("id", mem.ID),
			goerr.V("value", rs[0].Expressions[0].Value))
	}

	vector, _ := data["vector"].(bool)
	durable, _ := data["durable"].(bool)
	return &Decision{Vector: vector, Durable: durable}, nil
}
