package model

import "time"

// ChipStatus represents the current lifecycle state of a chip.
type ChipStatus string

const (
	StatusInTransit          ChipStatus = "in_transit"
	StatusInWorkshop         ChipStatus = "in_workshop"
	StatusInStock            ChipStatus = "in_stock"
	StatusAssignedInactive   ChipStatus = "assigned_inactive"
	StatusActive             ChipStatus = "active"
	StatusReturnedForService ChipStatus = "returned_for_service"
	StatusReceivedForService ChipStatus = "received_for_service"
	StatusReplaced           ChipStatus = "replaced"
	StatusArchived           ChipStatus = "archived"
)

// String returns the string representation of the status.
func (s ChipStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s ChipStatus) IsValid() bool {
	switch s {
	case StatusInTransit, StatusInWorkshop, StatusInStock, StatusAssignedInactive,
		StatusActive, StatusReturnedForService, StatusReceivedForService,
		StatusReplaced, StatusArchived:
		return true
	}
	return false
}

// IsTerminal reports whether the status accepts further transitions.
// Replaced chips may still be archived; archived chips accept nothing.
func (s ChipStatus) IsTerminal() bool {
	return s == StatusArchived
}

// Encoded reports whether the status has reached or passed the encoding
// transition, i.e. whether secret material is expected to be present.
func (s ChipStatus) Encoded() bool {
	switch s {
	case StatusInTransit, StatusInWorkshop:
		return false
	}
	return s.IsValid()
}

// Scannable reports whether a chip in this status may be presented for
// checksum verification. Chips without secret material cannot verify, and
// replaced or archived chips are out of circulation.
func (s ChipStatus) Scannable() bool {
	switch s {
	case StatusInStock, StatusAssignedInactive, StatusActive,
		StatusReturnedForService, StatusReceivedForService:
		return true
	}
	return false
}

// Assigned reports whether the status implies a bound customer.
func (s ChipStatus) Assigned() bool {
	switch s {
	case StatusAssignedInactive, StatusActive, StatusReturnedForService,
		StatusReceivedForService, StatusReplaced, StatusArchived:
		return true
	}
	return false
}

// Chip is the core record for one physical RFID unit.
//
// SecretSalt and Checksum are the anti-clone material written at encoding;
// they are never serialized in API responses. The checksum is returned once,
// by the encode operation, so it can be written to the physical tag.
type Chip struct {
	ID              string     `json:"id"`
	UID             string     `json:"uid"`
	Status          ChipStatus `json:"status"`
	CustomerRef     string     `json:"customer_ref,omitempty"`
	OrderRef        string     `json:"order_ref,omitempty"`
	ControlPointRef string     `json:"control_point_ref,omitempty"`
	ReplacementRef  string     `json:"replacement_ref,omitempty"`

	SecretSalt string `json:"-"`
	Checksum   string `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`

	// Lifecycle timestamps, stamped by the transition that reaches each state.
	ReceivedAt        *time.Time `json:"received_at,omitempty"`
	EncodedAt         *time.Time `json:"encoded_at,omitempty"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	FirstScanAt       *time.Time `json:"first_scan_at,omitempty"`
	LastScanAt        *time.Time `json:"last_scan_at,omitempty"`
	ReturnedAt        *time.Time `json:"returned_at,omitempty"`
	ServiceReceivedAt *time.Time `json:"service_received_at,omitempty"`
}

// HasSecret reports whether the chip carries encoding material.
func (c *Chip) HasSecret() bool {
	return c.SecretSalt != "" && c.Checksum != ""
}

// Schedulable is a planned task instance eligible for double-scan execution.
// Schedulables are owned by the surrounding planning layer; the core only
// reads them to check the declared location and scheduled time.
type Schedulable struct {
	Ref             string    `json:"ref"`
	ControlPointRef string    `json:"control_point_ref"`
	TaskType        string    `json:"task_type"`
	ScheduledAt     time.Time `json:"scheduled_at"`
}
