package store

import (
	"context"
	"errors"
)

var (
	// ErrAppNotFound indicates that the named app is not registered.
	ErrAppNotFound = errors.New("app not found")
	// ErrAppExists indicates that an app with the requested name is already registered.
	ErrAppExists = errors.New("app already exists")
	// ErrReleaseNotFound indicates that the requested release does not exist.
	ErrReleaseNotFound = errors.New("release not found")
)

// Store defines the operations available on the slipway data store
type Store interface {
	SaveApp(ctx context.Context, name string) (App, error)
	GetApps(ctx context.Context, names ...string) ([]App, error)
	QueryApps(ctx context.Context, nameFilter string, pageToken string, count int) ([]App, string, error)

	CreateRelease(ctx context.Context, app string, rel Release) (Release, error)
	GetRelease(ctx context.Context, app string, num int32) (Release, error)
	LatestRelease(ctx context.Context, app string) (Release, error)
	QueryReleases(ctx context.Context, app string, pageToken string, count int) ([]Release, string, error)
	SetReleaseStatus(ctx context.Context, releaseID int32, status ReleaseStatus) error

	GetConfigVars(ctx context.Context, app string) (map[string]string, error)
	SetConfigVars(ctx context.Context, app string, vars map[string]string) error
	UnsetConfigVars(ctx context.Context, app string, keys ...string) error
}
