package store

import "time"

// An App represents a deployable application registered with the platform.
type App struct {
	ID        int32     `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
