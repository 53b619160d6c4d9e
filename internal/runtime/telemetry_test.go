package runtime

import (
	"context"
	"slices"
	"testing"

	"github.com/loqalabs/loqa-translate/internal/config"
	"go.opentelemetry.io/otel/attribute"
)

func TestNewResourceIdentifiesNode(t *testing.T) {
	cfg := config.Default()
	cfg.Node.ID = "translator-kitchen"
	cfg.Translation.TargetLanguages = []string{"es", "ja"}

	res, err := newResource(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new resource: %v", err)
	}
	set := res.Set()

	want := map[attribute.Key]string{
		"service.name":                     cfg.RuntimeName,
		"service.instance.id":              "translator-kitchen",
		"loqa.node.role":                   cfg.Node.Role,
		"loqa.translation.mode":            cfg.Translation.Mode,
		"loqa.translation.source_language": cfg.Translation.SourceLanguage,
	}
	for key, value := range want {
		got, ok := set.Value(key)
		if !ok || got.AsString() != value {
			t.Fatalf("attribute %s: got %q, want %q", key, got.Emit(), value)
		}
	}
	targets, ok := set.Value("loqa.translation.target_languages")
	if !ok || !slices.Equal(targets.AsStringSlice(), []string{"es", "ja"}) {
		t.Fatalf("unexpected target languages %v", targets.Emit())
	}
}
