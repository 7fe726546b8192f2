package fieldlog

import (
	"context"
	"fmt"
	"strings"
)

// FarmContext renders a user's farms and fields as a prompt block so
// the chat model can resolve field names without a tool call.
type FarmContext struct {
	store *Store
}

// NewFarmContext creates a farm context provider backed by store.
func NewFarmContext(store *Store) *FarmContext {
	return &FarmContext{store: store}
}

// RetrieveContext returns "Farms:" followed by one line per farm and
// field, or "" when the user has no farms.
func (c *FarmContext) RetrieveContext(ctx context.Context, userID, _ string) (string, error) {
	farms, err := c.store.ListFarms(ctx, userID)
	if err != nil {
		return "", err
	}
	if len(farms) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Farms:")
	for _, farm := range farms {
		sb.WriteString("\n- " + farm.Name)
		if farm.State != "" {
			sb.WriteString(" (" + farm.State + ")")
		}
		fields, err := c.store.ListFields(ctx, farm.ID)
		if err != nil {
			return "", err
		}
		for _, f := range fields {
			fmt.Fprintf(&sb, "\n  - %s: %g ac", f.Name, f.Acreage)
			if f.CentroidLat != nil && f.CentroidLon != nil {
				fmt.Fprintf(&sb, " at %.4f,%.4f", *f.CentroidLat, *f.CentroidLon)
			}
		}
	}
	return sb.String(), nil
}
