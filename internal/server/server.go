package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/slipway-dev/slipway/internal/build"
	"github.com/slipway-dev/slipway/internal/dyno"
	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
	"github.com/slipway-dev/slipway/internal/store"
)

// Logger defines the required behavior for the service's logger.  This type is defined here so that the server
// implementation is not tied to any specified logging library.
type Logger interface {
	// Info generates a log entry at INFO level with the specified message and key/value attributes
	Info(msg string, kvs ...any)
	// Debug generates a log entry at DEBUG level with the specified message and key/value attributes
	Debug(msg string, kvs ...any)
	// Error generates a log entry at ERROR level with the specified error, message, and key/value attributes
	Error(err error, msg string, kvs ...any)
}

// nopLogger is a [Logger] that does nothing.  This is used as a fallback/default if [CreateServerCommand]
// is passed a nil.
type nopLogger struct{}

func (nopLogger) Info(string, ...any) { /* no-op */ }

func (nopLogger) Debug(string, ...any) { /* no-op */ }

func (nopLogger) Error(error, string, ...any) { /* no-op */ }

// log is the logging implementation for the server.  The default is a no-op logger, potentially
// overridden by [CreateServerCommand]
var log Logger = nopLogger{}

// CreateServerCommand initializes and returns a *cobra.Command that implements the 'server' CLI sub-command
func CreateServerCommand(logger Logger) *cobra.Command {
	if logger != nil {
		log = logger
	}

	cmd := cobra.Command{
		Use:          "server",
		Short:        "Starts the slipway control plane",
		RunE:         runServerCmd,
		SilenceUsage: true,
	}
	fset := cmd.Flags()
	fset.String("listen-addr", ":8044", "the TCP address to listen on")
	fset.String("db-addr", "", "the TCP host and port of the slipway DB")
	fset.String("db-user", "", "the login to be used when connecting to the slipway DB")
	fset.String("db-pass", "", "the password to be used when connecting to the slipway DB")
	fset.String("db-name", defaultDbName, "the name of the slipway DB to connect to")
	fset.String("domain", defaultDomain, "the DNS suffix of routable app URLs")
	fset.String("api-token", "", "if set, the bearer token required on every API request")
	fset.String("nats-url", "", "the NATS broker for log routing (empty selects in-process fanout)")
	fset.String("build-root", "", "the directory release source trees are unpacked into")
	fset.String("install-cmd", "", "the command run to install a release's dependencies")
	fset.StringSlice("runtimes", []string{"python"}, "the runtime languages this platform can provision")
	fset.Int("port-base", defaultPortBase, "the base of the per-app $PORT range")
	return &cmd
}

// runServerCmd implements the logic for the 'server' CLI sub-command
func runServerCmd(cmd *cobra.Command, _ []string) error {
	var opts []serverOption
	opts = append(opts, readServerConfigEnv()...)
	opts = append(opts, readServerConfigFlags(cmd.Flags())...)

	if err := runServer(opts...); err != nil {
		return err
	}
	return nil
}

// runServer starts the server with the specified runtime options.
func runServer(opts ...serverOption) error {
	// apply and validate runtime options
	var conf serverConfig
	for _, fn := range opts {
		if err := fn(&conf); err != nil {
			return fmt.Errorf("could not apply service config option: %w", err)
		}
	}
	if conf.dbAddr == "" || conf.dbUser == "" || conf.dbPwd == "" {
		return fmt.Errorf("the host, user name, and password for the slipway database must be specified")
	}
	if conf.domain == "" {
		conf.domain = defaultDomain
	}
	if conf.portBase <= 0 {
		conf.portBase = defaultPortBase
	}
	if conf.buildRoot == "" {
		conf.buildRoot = filepath.Join(os.TempDir(), "slipway-releases")
	}
	if conf.healthzTimeout <= 0 {
		conf.healthzTimeout = 300 * time.Millisecond
	}

	log.Debug("starting the server")
	// create the root listener
	lis, err := net.Listen("tcp", conf.listenAddr)
	if err != nil {
		return fmt.Errorf("could not create TCP listener: %w", err)
	}
	defer func() {
		if err := lis.Close(); err != nil {
			log.Error(err, "unexpected error closing TCP listener")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// connect to the database
	connStr := fmt.Sprintf("postgres://%s:%s@%s/%s", url.PathEscape(conf.dbUser), url.PathEscape(conf.dbPwd), url.PathEscape(conf.dbAddr), url.PathEscape(conf.dbName))
	db, err := store.NewPostgresClient(ctx, connStr, store.WithLog(log))
	if err != nil {
		return fmt.Errorf("could not connect to the database %q at %q: %w", conf.dbName, conf.dbAddr, err)
	}
	if err := db.InitSchema(ctx); err != nil {
		return fmt.Errorf("could not initialize the database schema: %w", err)
	}
	log.Debug("connected to the database", "addr", conf.dbAddr, "database", conf.dbName, "user", conf.dbUser)

	// spin up the log router
	var router logstream.Router
	if conf.natsURL != "" {
		router, err = logstream.NewNATSRouter(conf.natsURL)
		if err != nil {
			return fmt.Errorf("could not connect the log router: %w", err)
		}
		log.Debug("routing logs via NATS", "url", conf.natsURL)
	} else {
		router = logstream.NewMemoryRouter()
		log.Debug("routing logs in-process")
	}
	hub := logstream.NewHub(router, 0)
	defer func() {
		if err := hub.Close(); err != nil {
			log.Error(err, "unexpected error closing the log router")
		}
	}()

	// spin up the build and dyno layers, counting every routed line
	mets := newMetrics(prometheus.DefaultRegisterer)
	logs := mets.countPublisher(hub)
	builder := build.New(build.Config{
		Root:              conf.buildRoot,
		InstallCommand:    conf.installCmd,
		SupportedRuntimes: conf.runtimes,
	}, logs)
	dynos := dyno.New(logs, log)
	defer dynos.StopAll()
	mets.trackDynos(dynos.Running)

	svr := &apiServer{
		store:    db,
		hub:      hub,
		builder:  builder,
		dynos:    dynos,
		domain:   conf.domain,
		apiToken: conf.apiToken,
		portBase: conf.portBase,
		metrics:  mets,
	}

	// spin up HTTP server
	// The supported paths are:
	//   - /api/v1/* - the platform API
	//   - /healthz - server health checks
	//   - /metrics - Prometheus server metrics
	//   - /debug/pprof/* - pprof runtime profiles
	mux := http.NewServeMux()
	mux.Handle("/api/v1/", svr.routes())
	mux.Handle("/healthz", handleHealthz(db, conf.healthzTimeout, log))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	httpSrv := http.Server{
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: time.Second,
	}

	// relaunch the dynos of every previously deployed app
	if err := svr.resumeApps(ctx); err != nil {
		log.Error(err, "unable to resume previously deployed apps")
	}

	// start services
	// . use x/sync/errgroup so we can stop everything at once via the context
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Debug("serving HTTP/REST")
		defer log.Debug("HTTP/REST server closed")
		return httpSrv.Serve(lis)
	})

	// handle shutdown
	eg.Go(func() (err error) {
		defer func() {
			cancel()
			err = httpSrv.Shutdown(ctx)
		}()

		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGHUP)
		for {
			select {
			case sig := <-sigs:
				switch sig {
				case syscall.SIGHUP:
					log.Debug("Got SIGHUP signal, TODO - reload config")
				default:
					log.Debug("Got stop signal, shutting down", "signal", sig.String())
					return nil
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	log.Info("Server listening", "addr", conf.listenAddr, "domain", conf.domain)
	defer log.Info("Server exited")
	// wait for shutdown
	if err := eg.Wait(); err != nil && err != context.Canceled {
		return err
	}

	return nil
}

// resumeApps restarts the dynos of every app whose latest release is deployed.
// Called at startup so that a server restart does not strand running apps.
func (s *apiServer) resumeApps(ctx context.Context) error {
	apps, err := s.store.GetApps(ctx)
	if err != nil {
		return fmt.Errorf("unable to list apps: %w", err)
	}
	for _, app := range apps {
		rel, err := s.store.LatestRelease(ctx, app.Name)
		switch {
		case errors.Is(err, store.ErrReleaseNotFound):
			continue
		case err != nil:
			return fmt.Errorf("unable to load the latest release for %q: %w", app.Name, err)
		}
		if rel.Status != store.StatusDeployed {
			continue
		}
		pf, err := manifest.ParseProcfileString(rel.Procfile)
		if err != nil {
			log.Error(err, "stored Procfile no longer parses, skipping app", "app", app.Name, "release", rel.Num)
			continue
		}
		if err := s.startDynos(ctx, app, rel, pf); err != nil {
			log.Error(err, "unable to resume app", "app", app.Name, "release", rel.Num)
			continue
		}
		log.Info("resumed app", "app", app.Name, "release", rel.Num)
	}
	return nil
}
