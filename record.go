package rvg

import (
	"fmt"
	"strings"
)

// VaccineQuantity is one breakdown entry. Type is whatever the provider
// reports: a vaccine code (region query) or a display name (place search).
type VaccineQuantity struct {
	Type     string
	Quantity int
}

// AvailabilityRecord is one organization candidate, normalized across providers.
type AvailabilityRecord struct {
	Provider string
	OrgCode  string
	Name     string
	Address  string
	Total    int
	// nil when the provider did not include a per-type breakdown; it has to be
	// fetched, it is not empty
	Breakdown []VaccineQuantity
}

func (r AvailabilityRecord) HasBreakdown() bool {
	return r.Breakdown != nil
}

func (r AvailabilityRecord) String() string {
	if !r.HasBreakdown() {
		return fmt.Sprintf("%s [%s] total=%d (no breakdown)", r.Name, r.OrgCode, r.Total)
	}

	parts := make([]string, 0, len(r.Breakdown))
	for _, q := range r.Breakdown {
		parts = append(parts, fmt.Sprintf("%s=%d", q.Type, q.Quantity))
	}
	return fmt.Sprintf("%s [%s] total=%d (%s)", r.Name, r.OrgCode, r.Total, strings.Join(parts, ", "))
}
