package models

// NodeKind separates the single trigger node from action nodes.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"
	NodeKindAction  NodeKind = "action"
)

// Node is one vertex of a workflow graph. Trigger nodes carry a TriggerType
// and a trigger configuration; action nodes carry an ActionType, an action
// configuration and the IDs of the nodes they depend on. An action node with
// an empty depends_on set runs immediately when the trigger fires.
type Node struct {
	ID          string         `json:"id"           validate:"required"`
	Kind        NodeKind       `json:"kind"         validate:"required,oneof=trigger action"`
	TriggerType TriggerType    `json:"trigger_type,omitempty"`
	ActionType  string         `json:"action_type,omitempty"`
	Name        string         `json:"name"`
	Config      map[string]any `json:"config"`
	DependsOn   []string       `json:"depends_on,omitempty"`
}

func (n *Node) IsTriggerNode() bool {
	return n.Kind == NodeKindTrigger
}

func (n *Node) IsActionNode() bool {
	return n.Kind == NodeKindAction
}
