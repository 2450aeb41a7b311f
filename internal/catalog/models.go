package catalog

import (
	"time"

	"github.com/shopspring/decimal"
)

// NetworkKey is the provider-facing network code.
type NetworkKey string

const (
	NetworkYello     NetworkKey = "YELLO"
	NetworkTelecel   NetworkKey = "TELECEL"
	NetworkATPremium NetworkKey = "AT_PREMIUM"
)

// Valid reports whether k is a network the fulfillment provider accepts.
func (k NetworkKey) Valid() bool {
	switch k {
	case NetworkYello, NetworkTelecel, NetworkATPremium:
		return true
	}
	return false
}

type Network struct {
	Key    NetworkKey `json:"key" db:"key"`
	Name   string     `json:"name" db:"name"`
	Active bool       `json:"active" db:"is_active"`
}

// Bundle is a purchasable data plan. Rows are maintained by an external
// sync job and only read here.
type Bundle struct {
	ID      string     `json:"id" db:"id"`
	Network NetworkKey `json:"network" db:"network_key"`

	// Capacity is the provider capacity code, e.g. "5" for 5GB.
	Capacity string `json:"capacity" db:"capacity"`
	MB       string `json:"mb" db:"mb"`

	Price    decimal.Decimal `json:"price" db:"price"`
	PlanCode string          `json:"plan_code" db:"plan_code"`
	Active   bool            `json:"active" db:"is_active"`

	UpdatedAt time.Time `json:"updated_at" db:"last_synced"`
}

// DisplayCapacity renders the capacity as shown to customers.
func (b Bundle) DisplayCapacity() string { return b.Capacity + "GB" }
