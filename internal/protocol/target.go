package protocol

import (
	"encoding/json"
	"fmt"
)

// TargetKind is the closed set of resource kinds an Update can concern.
type TargetKind int

const (
	TargetUnknown TargetKind = iota
	TargetSystem
	TargetServer
	TargetStack
	TargetDeployment
	TargetBuild
	TargetRepo
	TargetProcedure
	TargetAction
	TargetBuilder
	TargetAlerter
	TargetResourceSync
)

// String returns the wire name of the kind.
func (k TargetKind) String() string {
	switch k {
	case TargetSystem:
		return "System"
	case TargetServer:
		return "Server"
	case TargetStack:
		return "Stack"
	case TargetDeployment:
		return "Deployment"
	case TargetBuild:
		return "Build"
	case TargetRepo:
		return "Repo"
	case TargetProcedure:
		return "Procedure"
	case TargetAction:
		return "Action"
	case TargetBuilder:
		return "Builder"
	case TargetAlerter:
		return "Alerter"
	case TargetResourceSync:
		return "ResourceSync"
	default:
		return "Unknown"
	}
}

// ParseTargetKind maps a wire name to its kind. Unrecognised names map to
// TargetUnknown.
func ParseTargetKind(name string) TargetKind {
	switch name {
	case "System":
		return TargetSystem
	case "Server":
		return TargetServer
	case "Stack":
		return TargetStack
	case "Deployment":
		return TargetDeployment
	case "Build":
		return TargetBuild
	case "Repo":
		return TargetRepo
	case "Procedure":
		return TargetProcedure
	case "Action":
		return TargetAction
	case "Builder":
		return TargetBuilder
	case "Alerter":
		return TargetAlerter
	case "ResourceSync":
		return TargetResourceSync
	default:
		return TargetUnknown
	}
}

// ResourceTarget identifies the resource an Update or session concerns.
// It encodes as {"type": "<Kind>", "id": "<id>"}.
type ResourceTarget struct {
	Kind TargetKind
	ID   string

	// raw keeps the original type name of an unknown kind so it re-encodes
	// unchanged.
	raw string
}

// NewTarget builds a ResourceTarget of a known kind.
func NewTarget(kind TargetKind, id string) ResourceTarget {
	return ResourceTarget{Kind: kind, ID: id}
}

// TypeName returns the wire type name, including unknown names as received.
func (t ResourceTarget) TypeName() string {
	if t.Kind == TargetUnknown && t.raw != "" {
		return t.raw
	}
	return t.Kind.String()
}

func (t ResourceTarget) String() string {
	return fmt.Sprintf("%s(%s)", t.TypeName(), t.ID)
}

type resourceTargetWire struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// MarshalJSON implements json.Marshaler.
func (t ResourceTarget) MarshalJSON() ([]byte, error) {
	return json.Marshal(resourceTargetWire{Type: t.TypeName(), ID: t.ID})
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *ResourceTarget) UnmarshalJSON(data []byte) error {
	var wire resourceTargetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	t.Kind = ParseTargetKind(wire.Type)
	t.ID = wire.ID
	t.raw = ""
	if t.Kind == TargetUnknown {
		t.raw = wire.Type
	}
	return nil
}
