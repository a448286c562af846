// Package api defines the JSON wire types exchanged between the slipway
// server and the CLI client.
package api

import "time"

// An App is a registered application.
type App struct {
	Name      string    `json:"name"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// AppList is one page of apps.
type AppList struct {
	Apps          []App  `json:"apps"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// CreateAppRequest registers a new app.
type CreateAppRequest struct {
	Name string `json:"name"`
}

// A Release is one deployed (or attempted) version of an app.
type Release struct {
	App         string    `json:"app"`
	Num         int32     `json:"num"`
	Description string    `json:"description"`
	Commit      string    `json:"commit"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// ReleaseList is one page of releases, newest first.
type ReleaseList struct {
	Releases      []Release `json:"releases"`
	NextPageToken string    `json:"next_page_token,omitempty"`
}

// ConfigVars is an app's key/value configuration.
type ConfigVars map[string]string

// A Dyno is the status of one running process instance.
type Dyno struct {
	Proc      string    `json:"proc"`
	Command   string    `json:"command"`
	State     string    `json:"state"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// DynoList is the full set of an app's dynos.
type DynoList struct {
	Dynos []Dyno `json:"dynos"`
}

// Error is the body of every non-2xx API response.
type Error struct {
	Message string `json:"message"`
}

// Multipart form field names for the release upload.
const (
	ReleaseSourceField      = "source"
	ReleaseDescriptionField = "description"
	ReleaseCommitField      = "commit"
)
