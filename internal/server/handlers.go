package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/slipway-dev/slipway/internal/api"
	"github.com/slipway-dev/slipway/internal/build"
	"github.com/slipway-dev/slipway/internal/dyno"
	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
	"github.com/slipway-dev/slipway/internal/store"
)

// reAppName restricts app names to what the platform can use as a DNS label.
var reAppName = regexp.MustCompile(`^[a-z][a-z0-9-]{2,29}$`)

// maxSourceBytes caps the size of an uploaded source archive.
const maxSourceBytes = 128 << 20

// defaultPageSize is used when a list request does not specify a count.
const defaultPageSize = 100

// apiServer implements the platform's JSON API.
type apiServer struct {
	store    store.Store
	hub      logHub
	builder  *build.Builder
	dynos    *dyno.Supervisor
	domain   string
	apiToken string
	portBase int
	metrics  *metrics
}

// logHub is the subset of *logstream.Hub the handlers need.  Tests substitute
// a fake.
type logHub interface {
	Publish(ctx context.Context, line logstream.Line) error
	Backlog(app string, n int) []logstream.Line
	Subscribe(ctx context.Context, app string) (<-chan logstream.Line, error)
}

// routes wires the API endpoints onto a mux, wrapped with request-id and auth
// middleware.
func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/apps", s.createApp)
	mux.HandleFunc("GET /api/v1/apps", s.listApps)
	mux.HandleFunc("GET /api/v1/apps/{name}", s.getApp)
	mux.HandleFunc("POST /api/v1/apps/{name}/releases", s.createRelease)
	mux.HandleFunc("GET /api/v1/apps/{name}/releases", s.listReleases)
	mux.HandleFunc("GET /api/v1/apps/{name}/releases/{num}", s.getRelease)
	mux.HandleFunc("GET /api/v1/apps/{name}/config", s.getConfig)
	mux.HandleFunc("PATCH /api/v1/apps/{name}/config", s.patchConfig)
	mux.HandleFunc("DELETE /api/v1/apps/{name}/config", s.deleteConfig)
	mux.HandleFunc("GET /api/v1/apps/{name}/logs", s.appLogs)
	mux.HandleFunc("POST /api/v1/apps/{name}/restart", s.restartApp)
	mux.HandleFunc("GET /api/v1/apps/{name}/ps", s.listDynos)
	return s.withAuth(withRequestID(mux))
}

// withRequestID tags every request with an id for log correlation.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		log.Debug("api request", "id", id, "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

// withAuth enforces the configured bearer token.  With no token configured
// the API is open, which is only appropriate for local single-user setups.
func (s *apiServer) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || got != s.apiToken {
				writeError(w, http.StatusUnauthorized, "a valid bearer token is required")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// appURL is the routable address of a deployed app.
func (s *apiServer) appURL(name string) string {
	return fmt.Sprintf("https://%s.%s", name, s.domain)
}

func (s *apiServer) toAPIApp(app store.App) api.App {
	return api.App{
		Name:      app.Name,
		URL:       s.appURL(app.Name),
		CreatedAt: app.CreatedAt,
	}
}

func toAPIRelease(app string, rel store.Release) api.Release {
	return api.Release{
		App:         app,
		Num:         rel.Num,
		Description: rel.Description,
		Commit:      rel.Commit,
		Status:      string(rel.Status),
		CreatedAt:   rel.CreatedAt,
	}
}

func (s *apiServer) createApp(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAppRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "the request body must be a JSON app definition")
		return
	}
	if !reAppName.MatchString(req.Name) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("%q is not a valid app name: must be 3-30 lowercase letters, digits, or dashes, starting with a letter", req.Name))
		return
	}
	app, err := s.store.SaveApp(r.Context(), req.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Info("app created", "app", app.Name)
	writeJSON(w, http.StatusCreated, s.toAPIApp(app))
}

func (s *apiServer) listApps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apps, next, err := s.store.QueryApps(r.Context(), q.Get("filter"), q.Get("page_token"), pageSize(q.Get("count")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := api.AppList{Apps: make([]api.App, len(apps)), NextPageToken: next}
	for i, app := range apps {
		out.Apps[i] = s.toAPIApp(app)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) getApp(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookupApp(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toAPIApp(app))
}

// createRelease handles the deploy upload: validate the archive, register the
// release, build it, and start the app's dynos.  The build runs synchronously
// so that the response carries the release's final status.
func (s *apiServer) createRelease(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.lookupApp(ctx, r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxSourceBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "the request must be a multipart release upload: "+err.Error())
		return
	}
	src, _, err := r.FormFile(api.ReleaseSourceField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "the release upload is missing the source archive")
		return
	}
	defer func() { _ = src.Close() }()
	archive, err := io.ReadAll(src)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unable to read the source archive: "+err.Error())
		return
	}

	// reject bad uploads before a release number is consumed
	arts, err := s.builder.Inspect(bytes.NewReader(archive))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prev, prevErr := s.store.LatestRelease(ctx, app.Name)

	rel, err := s.store.CreateRelease(ctx, app.Name, store.Release{
		Description: r.FormValue(api.ReleaseDescriptionField),
		Commit:      r.FormValue(api.ReleaseCommitField),
		Status:      store.StatusPending,
		Manifest:    arts.Manifest.String(),
		Procfile:    arts.Procfile.String(),
		Runtime:     arts.Runtime.String(),
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Info("release registered", "app", app.Name, "release", rel.Num, "commit", rel.Commit)
	if prevErr == nil {
		s.publishManifestDiff(ctx, app.Name, prev, arts.Manifest)
	}

	status := s.runRelease(ctx, app, rel, arts, archive)
	rel.Status = status
	code := http.StatusCreated
	if status == store.StatusFailed {
		code = http.StatusUnprocessableEntity
	}
	writeJSON(w, code, toAPIRelease(app.Name, rel))
}

// runRelease drives one release through build and launch, recording each
// status transition.  Returns the release's final status.
func (s *apiServer) runRelease(ctx context.Context, app store.App, rel store.Release, arts build.Artifacts, archive []byte) store.ReleaseStatus {
	// status writes must land even if the deploy request is abandoned
	// mid-build, or the release is stuck in "building" forever
	statusCtx := context.WithoutCancel(ctx)
	setStatus := func(status store.ReleaseStatus) store.ReleaseStatus {
		if err := s.store.SetReleaseStatus(statusCtx, rel.ID, status); err != nil {
			log.Error(err, "unable to record release status", "app", app.Name, "release", rel.Num, "status", status)
		}
		s.metrics.releaseFinished(status)
		return status
	}

	if err := s.store.SetReleaseStatus(statusCtx, rel.ID, store.StatusBuilding); err != nil {
		log.Error(err, "unable to record release status", "app", app.Name, "release", rel.Num, "status", store.StatusBuilding)
	}
	started := time.Now()
	if _, err := s.builder.Build(ctx, app.Name, rel.Num, bytes.NewReader(archive)); err != nil {
		log.Error(err, "build failed", "app", app.Name, "release", rel.Num)
		return setStatus(store.StatusFailed)
	}
	s.metrics.buildFinished(time.Since(started))

	if err := s.startDynos(ctx, app, rel, arts.Procfile); err != nil {
		log.Error(err, "unable to start app processes", "app", app.Name, "release", rel.Num)
		return setStatus(store.StatusFailed)
	}
	log.Info("release deployed", "app", app.Name, "release", rel.Num)
	return setStatus(store.StatusDeployed)
}

// publishManifestDiff emits the dependency changes since the previous release
// to the app's log stream, one line per changed pin, so the deploy tail and
// 'slipway logs' show what the release actually changed.
func (s *apiServer) publishManifestDiff(ctx context.Context, app string, prev store.Release, m manifest.Manifest) {
	old, err := manifest.ParseString(prev.Manifest)
	if err != nil {
		log.Error(err, "stored manifest no longer parses, skipping diff", "app", app, "release", prev.Num)
		return
	}
	diff := manifest.Compare(old, m)
	if diff.Empty() {
		return
	}
	for _, text := range strings.Split(strings.TrimSuffix(diff.String(), "\n"), "\n") {
		line := logstream.Line{
			App:    app,
			Source: logstream.SourceBuild,
			Proc:   "release",
			Time:   time.Now().UTC(),
			Text:   text,
		}
		if err := s.hub.Publish(ctx, line); err != nil {
			log.Error(err, "unable to publish manifest diff", "app", app)
			return
		}
	}
}

// startDynos launches the release's processes with the app's config vars.
func (s *apiServer) startDynos(ctx context.Context, app store.App, rel store.Release, pf manifest.Procfile) error {
	vars, err := s.store.GetConfigVars(ctx, app.Name)
	if err != nil {
		return fmt.Errorf("unable to load config vars: %w", err)
	}
	// dynos must outlive the request that deployed them
	return s.dynos.Start(context.WithoutCancel(ctx), dyno.Spec{
		App:      app.Name,
		Dir:      s.builder.ReleaseDir(app.Name, rel.Num),
		Procfile: pf,
		Env:      vars,
		Port:     s.portBase + int(app.ID),
	})
}

func (s *apiServer) listReleases(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	q := r.URL.Query()
	rels, next, err := s.store.QueryReleases(r.Context(), name, q.Get("page_token"), pageSize(q.Get("count")))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := api.ReleaseList{Releases: make([]api.Release, len(rels)), NextPageToken: next}
	for i, rel := range rels {
		out.Releases[i] = toAPIRelease(name, rel)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *apiServer) getRelease(w http.ResponseWriter, r *http.Request) {
	num, err := strconv.ParseInt(r.PathValue("num"), 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "the release number must be an integer")
		return
	}
	rel, err := s.store.GetRelease(r.Context(), r.PathValue("name"), int32(num))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIRelease(r.PathValue("name"), rel))
}

func (s *apiServer) getConfig(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookupApp(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	vars, err := s.store.GetConfigVars(r.Context(), app.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, api.ConfigVars(vars))
}

func (s *apiServer) patchConfig(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookupApp(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var vars api.ConfigVars
	if err := json.NewDecoder(r.Body).Decode(&vars); err != nil {
		writeError(w, http.StatusBadRequest, "the request body must be a JSON object of config vars")
		return
	}
	if len(vars) == 0 {
		writeError(w, http.StatusBadRequest, "at least one config var must be provided")
		return
	}
	if err := s.store.SetConfigVars(r.Context(), app.Name, vars); err != nil {
		writeStoreError(w, err)
		return
	}
	log.Info("config vars updated", "app", app.Name, "vars", len(vars))
	s.getConfig(w, r)
}

func (s *apiServer) deleteConfig(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookupApp(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	keys := r.URL.Query()["key"]
	if len(keys) == 0 {
		writeError(w, http.StatusBadRequest, "at least one key query parameter must be provided")
		return
	}
	if err := s.store.UnsetConfigVars(r.Context(), app.Name, keys...); err != nil {
		writeStoreError(w, err)
		return
	}
	log.Info("config vars removed", "app", app.Name, "vars", len(keys))
	s.getConfig(w, r)
}

// appLogs serves the app's log stream as NDJSON.  Without tail=1 it returns
// the retained backlog and closes; with tail=1 it keeps streaming live lines
// until the client goes away.
func (s *apiServer) appLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.lookupApp(ctx, r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	q := r.URL.Query()
	lines, _ := strconv.Atoi(q.Get("lines"))
	tail := q.Get("tail") == "1"

	w.Header().Set("Content-Type", "application/x-ndjson")
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	var sub <-chan logstream.Line
	if tail {
		// subscribe before draining the backlog so no line falls in the gap
		if sub, err = s.hub.Subscribe(ctx, app.Name); err != nil {
			writeError(w, http.StatusInternalServerError, "unable to attach to the log stream")
			return
		}
	}
	for _, line := range s.hub.Backlog(app.Name, lines) {
		if err := enc.Encode(line); err != nil {
			return
		}
	}
	flush()
	if !tail {
		return
	}
	for {
		select {
		case line, ok := <-sub:
			if !ok {
				return
			}
			if err := enc.Encode(line); err != nil {
				return
			}
			flush()
		case <-ctx.Done():
			return
		}
	}
}

func (s *apiServer) restartApp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	app, err := s.lookupApp(ctx, r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	rel, err := s.store.LatestRelease(ctx, app.Name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if rel.Status != store.StatusDeployed {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("the latest release of %q is %s, not deployed", app.Name, rel.Status))
		return
	}
	pf, err := manifest.ParseProcfileString(rel.Procfile)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "the stored Procfile no longer parses: "+err.Error())
		return
	}
	// restart from the stored release so config var changes take effect
	if err := s.startDynos(ctx, app, rel, pf); err != nil {
		writeError(w, http.StatusInternalServerError, "unable to restart the app: "+err.Error())
		return
	}
	log.Info("app restarted", "app", app.Name, "release", rel.Num)
	s.listDynos(w, r)
}

func (s *apiServer) listDynos(w http.ResponseWriter, r *http.Request) {
	app, err := s.lookupApp(r.Context(), r.PathValue("name"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	ds := s.dynos.List(app.Name)
	out := api.DynoList{Dynos: make([]api.Dyno, len(ds))}
	for i, d := range ds {
		out.Dynos[i] = api.Dyno{
			Proc:      d.Proc,
			Command:   d.Command,
			State:     string(d.State),
			Restarts:  d.Restarts,
			StartedAt: d.StartedAt,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// lookupApp fetches a single app by name, mapping absence to ErrAppNotFound.
func (s *apiServer) lookupApp(ctx context.Context, name string) (store.App, error) {
	apps, err := s.store.GetApps(ctx, name)
	if err != nil {
		return store.App{}, err
	}
	if len(apps) == 0 {
		return store.App{}, fmt.Errorf("%w: %s", store.ErrAppNotFound, name)
	}
	return apps[0], nil
}

func pageSize(count string) int {
	if n, err := strconv.Atoi(count); err == nil && n > 0 {
		return n
	}
	return defaultPageSize
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error(err, "unable to write API response")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, api.Error{Message: msg})
}

// writeStoreError maps store errors onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrAppNotFound), errors.Is(err, store.ErrReleaseNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrAppExists):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error(err, "store operation failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
