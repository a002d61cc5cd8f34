package lifecycle

import "time"

// Entity is any tenant-owned business object with a lifecycle. Its status is
// mutated only through the transition executor, never written directly.
type Entity struct {
	EntityType     string         `json:"entity_type"`
	EntityID       string         `json:"entity_id"`
	OrganizationID string         `json:"organization_id"`
	Status         State          `json:"status"`
	Derived        map[string]any `json:"derived,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Ref identifies an entity by type and id
type Ref struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// Ref returns the entity's identifying pair
func (e *Entity) Ref() Ref {
	return Ref{EntityType: e.EntityType, EntityID: e.EntityID}
}

// Link connects an entity to a linked entity owned by an independent
// lifecycle (job -> work order, violation -> assessment charge)
type Link struct {
	Source Ref `json:"source"`
	Target Ref `json:"target"`
}
