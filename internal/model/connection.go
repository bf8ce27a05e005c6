package model

type ConnectionType string

const (
	ConnectionFiber    ConnectionType = "fiber"
	ConnectionCopper   ConnectionType = "copper"
	ConnectionWireless ConnectionType = "wireless"
	ConnectionLogical  ConnectionType = "logical"
)

// NetworkConnection links two elements by id. Endpoints may reference elements that are
// not part of the current working set.
type NetworkConnection struct {
	ID       string         `json:"id"`
	SourceID string         `json:"source_id"`
	TargetID string         `json:"target_id"`
	Type     ConnectionType `json:"type"`
	Status   ElementStatus  `json:"status"`
	Capacity *float64       `json:"capacity,omitempty"`
	Weight   *float64       `json:"weight,omitempty"`
}

func ParseConnectionType(raw string) ConnectionType {
	switch normalizeEnum(raw) {
	case "fiber", "fibre", "optical", "optical_fiber":
		return ConnectionFiber
	case "copper", "coax", "ethernet":
		return ConnectionCopper
	case "wireless", "radio", "microwave":
		return ConnectionWireless
	default:
		return ConnectionLogical
	}
}

type ElementEventKind string

const (
	ElementCreated ElementEventKind = "created"
	ElementUpdated ElementEventKind = "updated"
	ElementDeleted ElementEventKind = "deleted"
)

// ElementEvent is a change notification from the element repository.
type ElementEvent struct {
	Kind    ElementEventKind `json:"kind"`
	Element NetworkElement   `json:"element"`
}
