package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/jackc/pgx/v4/stdlib" //nolint: revive // intentional blank import b/c that's how pgx works
	"github.com/jmoiron/sqlx"
)

const (
	tableApps       = "app"
	tableReleases   = "release"
	tableConfigVars = "config_var"
)

var (
	columnsApps     = []string{"id", "name", "created_at"}
	columnsReleases = []string{"id", "app_id", "num", "description", "commit_hash", "status", "manifest", "procfile", "runtime", "created_at"}

	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
)

// PostgresClient performs store-related operations against a postgres backend
// database.
type PostgresClient struct {
	db  *sqlx.DB
	log Logger
}

// ensure the PG client satisfies the Store interface
var _ Store = (*PostgresClient)(nil)

// NewPostgresClient initializes a store client for interacting with a
// PostgreSQL backend. If it can not immediately reach the target database, an
// error is returned.
func NewPostgresClient(ctx context.Context, url string, opts ...PGOption) (*PostgresClient, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", url)
	if err != nil {
		return nil, err
	}
	err = db.PingContext(ctx)
	if err != nil {
		return nil, err
	}
	c := PostgresClient{
		db:  db,
		log: nopLogger{},
	}
	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, fmt.Errorf("error applying store option: %w", err)
		}
	}
	return &c, nil
}

// Ping verifies connectivity to the backend database.
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// SaveApp registers a new app with the provided name.  If an app with that
// name already exists, ErrAppExists is returned.
func (p *PostgresClient) SaveApp(ctx context.Context, name string) (App, error) {
	if name == "" {
		return App{}, fmt.Errorf("app name must be provided")
	}

	cmd, args, err := psql.
		Insert(tableApps).
		Columns("name").
		Values(name).
		Suffix(`ON CONFLICT (name) DO NOTHING RETURNING id, name, created_at`).
		ToSql()
	if err != nil {
		return App{}, fmt.Errorf("error constructing database command: %w", err)
	}
	var app App
	err = p.db.GetContext(ctx, &app, cmd, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// ON CONFLICT DO NOTHING returns no row when the name is taken
		return App{}, fmt.Errorf("%w: %s", ErrAppExists, name)
	case err != nil:
		return App{}, fmt.Errorf("error executing database command: %w", err)
	}
	return app, nil
}

// GetApps retrieves apps by name, where if no names are provided, all apps
// are returned.
func (p *PostgresClient) GetApps(ctx context.Context, names ...string) ([]App, error) {
	q := psql.
		Select(columnsApps...).
		From(tableApps)
	if len(names) != 0 {
		q = q.Where(sq.Eq{"name": names})
	}
	q = q.OrderBy("name")
	cmd, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	var apps []App
	if err := p.db.SelectContext(ctx, &apps, cmd, args...); err != nil {
		return nil, err
	}
	return apps, nil
}

// QueryApps returns a list of 0 to count apps that match the specified name
// filter (glob format), along with a paging token.
//
// The pageToken argument, if provided, should be the return value from a prior
// call to this method with the same filter.  It will be decoded to determine
// the next "page" of results.  An invalid page token will result in an error
// being returned.
func (p *PostgresClient) QueryApps(ctx context.Context, nameFilter string, pageToken string, count int) ([]App, string, error) {
	offset := 0
	if pageToken != "" {
		var err error
		offset, err = decodePageToken(pageToken, "apps:"+nameFilter)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
	}
	q := psql.
		Select(columnsApps...).
		From(tableApps)
	q = applyNameFilter(q, nameFilter)
	q = q.OrderBy("name")
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	if count > 0 {
		q = q.Limit(uint64(count))
	}

	cmd, args, err := q.ToSql()
	if err != nil {
		return nil, "", err
	}

	var results []App
	if err := p.db.SelectContext(ctx, &results, cmd, args...); err != nil {
		return nil, "", err
	}
	return results, encodePageToken("apps:"+nameFilter, len(results), offset, count), nil
}

// CreateRelease registers a new release of the named app, assigning the next
// release number.  The assignment is serialized per app so that concurrent
// deploys never produce duplicate or gapped numbers.
func (p *PostgresClient) CreateRelease(ctx context.Context, app string, rel Release) (created Release, err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return Release{}, fmt.Errorf("error starting database transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	// lock the app row so the num assignment below is race-free
	cmd, args, err := psql.
		Select("id").
		From(tableApps).
		Where(sq.Eq{"name": app}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return Release{}, fmt.Errorf("error constructing database command: %w", err)
	}
	var appID int32
	err = tx.GetContext(ctx, &appID, cmd, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Release{}, fmt.Errorf("%w: %s", ErrAppNotFound, app)
	case err != nil:
		return Release{}, fmt.Errorf("error executing database command: %w", err)
	}

	cmd, args, err = psql.
		Insert(tableReleases).
		Columns("app_id", "num", "description", "commit_hash", "status", "manifest", "procfile", "runtime").
		Values(appID,
			sq.Expr("(SELECT COALESCE(MAX(num), 0) + 1 FROM "+tableReleases+" WHERE app_id = ?)", appID),
			rel.Description, rel.Commit, rel.Status, rel.Manifest, rel.Procfile, rel.Runtime).
		Suffix("RETURNING " + strings.Join(columnsReleases, ", ")).
		ToSql()
	if err != nil {
		return Release{}, fmt.Errorf("error constructing database command: %w", err)
	}
	if err = tx.GetContext(ctx, &created, cmd, args...); err != nil {
		return Release{}, fmt.Errorf("error executing database command: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return Release{}, fmt.Errorf("error committing database transaction: %w", err)
	}
	p.log.Debug("created release", "app", app, "num", created.Num)
	return created, nil
}

// GetRelease retrieves a specific release of the named app.
func (p *PostgresClient) GetRelease(ctx context.Context, app string, num int32) (Release, error) {
	return p.getRelease(ctx, app, sq.Eq{"r.num": num})
}

// LatestRelease retrieves the most recent release of the named app.  If the
// app exists but has never been deployed, ErrReleaseNotFound is returned.
func (p *PostgresClient) LatestRelease(ctx context.Context, app string) (Release, error) {
	return p.getRelease(ctx, app, nil)
}

func (p *PostgresClient) getRelease(ctx context.Context, app string, where any) (Release, error) {
	if app == "" {
		return Release{}, fmt.Errorf("the app name must be specified")
	}
	q := psql.
		Select(prefixColumns("r", columnsReleases)...).
		From(tableReleases + " r").
		Join(tableApps + " a ON (a.id = r.app_id)").
		Where(sq.Eq{"a.name": app}).
		OrderBy("r.num DESC").
		Limit(1)
	if where != nil {
		q = q.Where(where)
	}
	cmd, args, err := q.ToSql()
	if err != nil {
		return Release{}, err
	}
	var rel Release
	err = p.db.GetContext(ctx, &rel, cmd, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Release{}, fmt.Errorf("%w: app %s", ErrReleaseNotFound, app)
	case err != nil:
		return Release{}, err
	}
	return rel, nil
}

// QueryReleases returns a list of 0 or more releases for the specified app,
// newest first, along with a paging token.
func (p *PostgresClient) QueryReleases(ctx context.Context, app string, pageToken string, count int) (results []Release, nextPageToken string, err error) {
	if app == "" {
		return nil, "", fmt.Errorf("the app name must be specified")
	}
	offset := 0
	if pageToken != "" {
		var err error
		offset, err = decodePageToken(pageToken, "releases:"+app)
		if err != nil {
			return nil, "", fmt.Errorf("invalid page token: %w", err)
		}
	}
	q := psql.
		Select(prefixColumns("r", columnsReleases)...).
		From(tableReleases + " r").
		Join(tableApps + " a ON (a.id = r.app_id)").
		Where(sq.Eq{"a.name": app}).
		OrderBy("r.num DESC")
	if offset > 0 {
		q = q.Offset(uint64(offset))
	}
	if count > 0 {
		q = q.Limit(uint64(count))
	}
	cmd, args, err := q.ToSql()
	if err != nil {
		return nil, "", err
	}
	if err := p.db.SelectContext(ctx, &results, cmd, args...); err != nil {
		return nil, "", err
	}
	return results, encodePageToken("releases:"+app, len(results), offset, count), nil
}

// SetReleaseStatus updates the build pipeline status of a release.
func (p *PostgresClient) SetReleaseStatus(ctx context.Context, releaseID int32, status ReleaseStatus) error {
	cmd, args, err := psql.
		Update(tableReleases).
		Set("status", status).
		Where(sq.Eq{"id": releaseID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing database command: %w", err)
	}
	res, err := p.db.ExecContext(ctx, cmd, args...)
	if err != nil {
		return fmt.Errorf("error executing database command: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: id %d", ErrReleaseNotFound, releaseID)
	}
	return nil
}

// GetConfigVars retrieves the full set of config vars for the named app.
func (p *PostgresClient) GetConfigVars(ctx context.Context, app string) (map[string]string, error) {
	appID, err := p.appID(ctx, app)
	if err != nil {
		return nil, err
	}
	cmd, args, err := psql.
		Select("app_id", "key", "value").
		From(tableConfigVars).
		Where(sq.Eq{"app_id": appID}).
		OrderBy("key").
		ToSql()
	if err != nil {
		return nil, err
	}
	var rows []ConfigVar
	if err := p.db.SelectContext(ctx, &rows, cmd, args...); err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(rows))
	for _, cv := range rows {
		vars[cv.Key] = cv.Value
	}
	return vars, nil
}

// SetConfigVars upserts the provided config vars for the named app, leaving
// any keys not present in vars untouched.
func (p *PostgresClient) SetConfigVars(ctx context.Context, app string, vars map[string]string) error {
	appID, err := p.appID(ctx, app)
	if err != nil {
		return err
	}
	for k, v := range vars {
		cmd, args, err := psql.
			Insert(tableConfigVars).
			Columns("app_id", "key", "value").
			Values(appID, k, v).
			Suffix(`ON CONFLICT (app_id, key) DO UPDATE SET value = EXCLUDED.value`).
			ToSql()
		if err != nil {
			return fmt.Errorf("error constructing database command for %q: %w", k, err)
		}
		if _, err := p.db.ExecContext(ctx, cmd, args...); err != nil {
			return fmt.Errorf("error executing database command for %q: %w", k, err)
		}
	}
	return nil
}

// UnsetConfigVars removes the named keys from the app's config.  Removing a
// key that does not exist is not an error.
func (p *PostgresClient) UnsetConfigVars(ctx context.Context, app string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	appID, err := p.appID(ctx, app)
	if err != nil {
		return err
	}
	cmd, args, err := psql.
		Delete(tableConfigVars).
		Where(sq.Eq{"app_id": appID, "key": keys}).
		ToSql()
	if err != nil {
		return fmt.Errorf("error constructing database command: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, cmd, args...); err != nil {
		return fmt.Errorf("error executing database command: %w", err)
	}
	return nil
}

// appID resolves an app name to its row ID, returning ErrAppNotFound for
// unknown names.
func (p *PostgresClient) appID(ctx context.Context, app string) (int32, error) {
	if app == "" {
		return 0, fmt.Errorf("the app name must be specified")
	}
	cmd, args, err := psql.
		Select("id").
		From(tableApps).
		Where(sq.Eq{"name": app}).
		ToSql()
	if err != nil {
		return 0, err
	}
	var id int32
	err = p.db.GetContext(ctx, &id, cmd, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("%w: %s", ErrAppNotFound, app)
	case err != nil:
		return 0, err
	}
	return id, nil
}

func applyNameFilter(q sq.SelectBuilder, nameFilter string) sq.SelectBuilder {
	if nameFilter == "" {
		return q
	}
	// translate glob ? and * wildcards to SQL equivalents
	where := strings.Map(func(c rune) rune {
		switch c {
		case '?':
			return '_'
		case '*':
			return '%'
		default:
			return c
		}
	}, nameFilter)
	// treat a filter with no wildards as a "contains" substring match
	if !strings.ContainsAny(where, "%_") {
		where = "%" + where + "%"
	}
	return q.Where(sq.Like{"name": where})
}

// prefixColumns qualifies each column name with a table alias, aliasing back
// to the bare column name so sqlx struct scanning still lines up.
func prefixColumns(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c + ` AS "` + c + `"`
	}
	return out
}
