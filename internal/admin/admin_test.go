package admin

import (
	"context"
	"testing"

	nervis "github.com/ferro-labs/ner-visualizer"
	"github.com/ferro-labs/ner-visualizer/internal/nerclient"
)

// staticCaller answers every call with the same entities.
func staticCaller(entities map[string]string) nervis.CallerFactory {
	return func(context.Context, nervis.ModelConfig) (nerclient.Caller, error) {
		return nerclient.CallerFunc(func(context.Context, string, map[string]string) (map[string]string, error) {
			return entities, nil
		}), nil
	}
}

func newTestVisualizer(t *testing.T, models ...nervis.ModelConfig) *nervis.Visualizer {
	t.Helper()
	v, err := nervis.New(nervis.Config{
		Cache:  nervis.CacheConfig{CapacityPerModel: 4},
		Models: models,
	}, nervis.WithCallerFactory(staticCaller(map[string]string{"Paris": "LOC"})))
	if err != nil {
		t.Fatalf("nervis.New: %v", err)
	}
	return v
}

func identities(models []nervis.ModelConfig) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m.Identity()
	}
	return out
}
