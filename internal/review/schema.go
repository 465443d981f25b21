package review

import (
	_ "embed"
	"sync"

	"github.com/rpattn/querykit/internal/schema"
)

// EntityName is the registry name of the review entity.
const EntityName = "review"

// ScopeField is the field every review query is scoped by.
const ScopeField = "shop_id"

//go:embed schema.yaml
var schemaYAML []byte

var (
	registryOnce sync.Once
	registry     *schema.Registry
	registryErr  error
)

// Registry returns the built-in review schema: reviews with their product,
// order item, photos, videos and badges.
func Registry() (*schema.Registry, error) {
	registryOnce.Do(func() {
		registry, registryErr = schema.Parse(schemaYAML)
	})
	return registry, registryErr
}

// SchemaYAML returns the raw built-in schema document.
func SchemaYAML() []byte {
	return append([]byte(nil), schemaYAML...)
}
