// Package repo holds a registry of blob-source implementations,
// so that a program can open a repository from a configuration map.
// The implementations themselves live in subpackages,
// each of which registers itself in an init function.
package repo

import (
	"context"
	"fmt"
	"sort"

	"github.com/bobg/snapdir"
)

// Factory opens a blob source from a configuration map.
// The map is whatever the config file holds for the source,
// including the "type" key that selected the factory.
type Factory func(context.Context, map[string]interface{}) (snapdir.Source, error)

var registry = make(map[string]Factory)

func Register(key string, f Factory) {
	registry[key] = f
}

func Create(ctx context.Context, key string, conf map[string]interface{}) (snapdir.Source, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Types lists the registered source types.
func Types() []string {
	result := make([]string, 0, len(registry))
	for k := range registry {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Nested creates the source described by the "nested" parameter of conf.
// It is for use by wrapper sources.
func Nested(ctx context.Context, conf map[string]interface{}) (snapdir.Source, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, fmt.Errorf(`"nested" parameter missing "type"`)
	}
	return Create(ctx, nestedType, nested)
}
