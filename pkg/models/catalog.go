package models

import "time"

// SnapshotHandle points at the catalog file that a run queries.
type SnapshotHandle struct {
	Path string
	// Live is true when Path is the production catalog opened read-only.
	Live bool
	// Refreshed is true when the copy was rebuilt during this call.
	Refreshed bool
	CreatedAt time.Time
}

// CatalogStats summarises how much work is left in the catalog.
type CatalogStats struct {
	Candidates int            `json:"candidates"`
	Excluded   int            `json:"excluded"`
	Pending    int            `json:"pending"`
	ByModality map[string]int `json:"by_modality"`
}
