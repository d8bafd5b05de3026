// Package actions holds the built-in action implementations and the registry
// the coordinator resolves node action types against.
package actions

import (
	"errors"
	"fmt"

	"github.com/atlas-fitness/automations/pkg/protocol"
)

// ErrUnknownActionType is returned when a node names an unregistered action.
var ErrUnknownActionType = errors.New("unknown action type")

// Registry maps action type identifiers to their factories.
type Registry struct {
	factories map[string]protocol.ActionFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]protocol.ActionFactory)}
}

// Register adds a factory under its ID, replacing any previous one.
func (r *Registry) Register(factory protocol.ActionFactory) {
	r.factories[factory.ID()] = factory
}

// Create builds an action instance for the given type and config.
func (r *Registry) Create(actionType string, config map[string]any) (protocol.Action, error) {
	factory, ok := r.factories[actionType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownActionType, actionType)
	}

	return factory.Create(config)
}

// Available returns the registered action type identifiers.
func (r *Registry) Available() []string {
	types := make([]string, 0, len(r.factories))
	for actionType := range r.factories {
		types = append(types, actionType)
	}

	return types
}
