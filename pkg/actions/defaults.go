package actions

import (
	"github.com/atlas-fitness/automations/pkg/actions/httprequest"
	logaction "github.com/atlas-fitness/automations/pkg/actions/log"
	"github.com/atlas-fitness/automations/pkg/actions/recordnote"
	"github.com/atlas-fitness/automations/pkg/protocol"
)

// DefaultRegistry returns a registry with every built-in action registered.
// The CRM client backs the actions that touch lead and client records.
func DefaultRegistry(crm protocol.CRMClient) *Registry {
	registry := NewRegistry()
	registry.Register(logaction.NewActionFactory())
	registry.Register(httprequest.NewActionFactory())
	registry.Register(recordnote.NewActionFactory(crm))

	return registry
}
