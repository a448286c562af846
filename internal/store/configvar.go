package store

// A ConfigVar is a single key/value configuration entry attached to an app.
// Config vars are injected into the environment of every dyno the app runs.
type ConfigVar struct {
	AppID int32  `json:"app_id" db:"app_id"`
	Key   string `json:"key" db:"key"`
	Value string `json:"value" db:"value"`
}
