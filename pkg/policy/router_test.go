package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/policy"
)

func TestBuiltinRoute(t *testing.T) {
	ctx := context.Background()
	router, err := policy.NewRouter(ctx, "")
	gt.NoError(t, err)

	testCases := []struct {
		name    string
		mem     *model.Memory
		vector  bool
		durable bool
	}{
		{
			name:   "note goes to vector only",
			mem:    &model.Memory{ID: "1", Type: model.MemoryTypeNote},
			vector: true,
		},
		{
			name:    "preference goes to both",
			mem:     &model.Memory{ID: "2", Type: model.MemoryTypePreference},
			vector:  true,
			durable: true,
		},
		{
			name:    "user_core goes to both",
			mem:     &model.Memory{ID: "3", Type: model.MemoryTypeUserCore},
			vector:  true,
			durable: true,
		},
		{
			name: "opt out of vector",
			mem: &model.Memory{
				ID:       "4",
				Type:     model.MemoryTypeProfile,
				Metadata: map[string]any{"route_to_vector": false},
			},
			durable: true,
		},
		{
			name:   "unspecified is not core",
			mem:    &model.Memory{ID: "5", Type: model.MemoryTypeUnspecified},
			vector: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := router.Route(ctx, tc.mem)
			gt.NoError(t, err)
			gt.Equal(t, d.Vector, tc.vector)
			gt.Equal(t, d.Durable, tc.durable)
		})
	}
}

func TestCustomRoute(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	custom := `package recall.route

default vector := true

default durable := false

durable if input.category == "health"
`
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "route.rego"), []byte(custom), 0644))

	router, err := policy.NewRouter(ctx, dir)
	gt.NoError(t, err)

	d, err := router.Route(ctx, &model.Memory{ID: "1", Type: model.MemoryTypePreference})
	gt.NoError(t, err)
	gt.False(t, d.Durable)

	d, err = router.Route(ctx, &model.Memory{ID: "2", Type: model.MemoryTypeNote, Category: "health"})
	gt.NoError(t, err)
	gt.True(t, d.Durable)
}

func TestRouterConfigErrors(t *testing.T) {
	ctx := context.Background()

	_, err := policy.NewRouter(ctx, t.TempDir())
	gt.Error(t, err)
	gt.True(t, goerr.HasTag(err, model.ErrTagConfig))

	dir := t.TempDir()
	gt.NoError(t, os.WriteFile(filepath.Join(dir, "bad.rego"), []byte("package recall.route\n\nvector := {"), 0644))
	_, err = policy.NewRouter(ctx, dir)
	gt.Error(t, err)
}
