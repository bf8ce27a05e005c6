package sqlcgen

import "time"

type NetworkElement struct {
	ID          string
	Type        string
	Status      string
	Lat         *float64
	Lng         *float64
	Alt         *float64
	Metadata    map[string]any
	Name        *string
	Description *string
	UpdatedAt   time.Time
}

type NetworkConnection struct {
	ID       string
	SourceID string
	TargetID string
	Type     string
	Status   string
	Capacity *float64
	Weight   *float64
}
