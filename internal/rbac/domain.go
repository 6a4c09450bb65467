package rbac

import (
	"math"
	"time"
)

// RoleLimit maps a role to the maximum transaction amount it may authorise.
// A nil MaxAmount means the role is unlimited.
type RoleLimit struct {
	Role      string
	MaxAmount *float64
	UpdatedAt time.Time
}

// Ceiling returns the authorisation ceiling as a comparable amount.
func (l RoleLimit) Ceiling() float64 {
	if l.MaxAmount == nil {
		return math.Inf(1)
	}
	return *l.MaxAmount
}
