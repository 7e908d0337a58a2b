// Package models provides the core domain types shared by the workflow designer, validator and engine.
package models

import (
	"bytes"
	"encoding/json"
)

// NodeType identifies the kind of work a node performs.
type NodeType string

const (
	NodeTypeStart        NodeType = "start"
	NodeTypeEnd          NodeType = "end"
	NodeTypeDecision     NodeType = "decision"
	NodeTypeAction       NodeType = "action"
	NodeTypeEscalation   NodeType = "escalation"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeAgent        NodeType = "agent"
	NodeTypeRoomCreation NodeType = "room_creation"
	NodeTypeVerification NodeType = "verification"
)

// NodeTypes lists every known node type in catalog order.
var NodeTypes = []NodeType{
	NodeTypeStart,
	NodeTypeEnd,
	NodeTypeDecision,
	NodeTypeAction,
	NodeTypeEscalation,
	NodeTypeDelay,
	NodeTypeAgent,
	NodeTypeRoomCreation,
	NodeTypeVerification,
}

// IsValid reports whether t is one of the enumerated node types.
func (t NodeType) IsValid() bool {
	for _, known := range NodeTypes {
		if t == known {
			return true
		}
	}

	return false
}

// Branches reports whether nodes of this type select a successor by outcome.
func (t NodeType) Branches() bool {
	return t == NodeTypeDecision || t == NodeTypeVerification
}

// Position is the canvas location of a node. It has no effect on execution.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a single typed step of a workflow graph.
type Node struct {
	ID          string   `json:"id"`
	Type        NodeType `json:"type"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Position

	Params map[string]any `json:"params"`
}

// Param returns the raw value stored under key.
func (n *Node) Param(key string) (any, bool) {
	if n.Params == nil {
		return nil, false
	}

	v, ok := n.Params[key]

	return v, ok
}

// StringParam returns the value under key rendered as a string. Numbers are
// formatted without a trailing fraction so that {"timeout": 10} reads as "10".
func (n *Node) StringParam(key string) string {
	v, ok := n.Param(key)
	if !ok || v == nil {
		return ""
	}

	switch value := v.(type) {
	case string:
		return value
	case json.Number:
		return value.String()
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return ""
		}

		return string(data)
	}
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Params = CloneParams(n.Params)

	return &clone
}

// CloneParams deep-copies a params block through its JSON form so nested
// maps and slices are never shared between copies.
func CloneParams(params map[string]any) map[string]any {
	out, err := NormalizeParams(params)
	if err != nil {
		// params that cannot be encoded are copied shallowly
		shallow := make(map[string]any, len(params))
		for k, v := range params {
			shallow[k] = v
		}

		return shallow
	}

	return out
}

// NormalizeParams returns params in canonical JSON form: numbers become
// json.Number, nested objects map[string]any and arrays []any. A nil block
// normalizes to an empty map.
func NormalizeParams(params map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(params) == 0 {
		return out, nil
	}

	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(&out); err != nil {
		return nil, err
	}

	return out, nil
}
