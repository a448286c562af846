package store

import "time"

// ReleaseStatus tracks a release through the platform's build pipeline.
type ReleaseStatus string

const (
	// StatusPending indicates that the release has been registered but not yet built.
	StatusPending ReleaseStatus = "pending"
	// StatusBuilding indicates that the build step is in progress.
	StatusBuilding ReleaseStatus = "building"
	// StatusDeployed indicates that the release was built and its processes started.
	StatusDeployed ReleaseStatus = "deployed"
	// StatusFailed indicates that the build or launch failed.
	StatusFailed ReleaseStatus = "failed"
)

// A Release represents one deployed (or attempted) version of an app.  The
// release number is assigned by the store and increases by one per release
// within an app.
type Release struct {
	ID          int32         `json:"id" db:"id"`
	AppID       int32         `json:"app_id" db:"app_id"`
	Num         int32         `json:"num" db:"num"`
	Description string        `json:"description" db:"description"`
	Commit      string        `json:"commit" db:"commit_hash"`
	Status      ReleaseStatus `json:"status" db:"status"`
	// canonical text snapshots of the three build artifacts
	Manifest  string    `json:"manifest" db:"manifest"`
	Procfile  string    `json:"procfile" db:"procfile"`
	Runtime   string    `json:"runtime" db:"runtime"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
