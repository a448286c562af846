// Package dyno supervises the processes of deployed applications.  A dyno is
// one running instance of a Procfile process type, launched from a release
// directory with the app's config vars in its environment.
package dyno

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/slipway-dev/slipway/internal/logstream"
	"github.com/slipway-dev/slipway/internal/manifest"
)

// State describes a dyno's lifecycle position.
type State string

const (
	StateStarting State = "starting"
	StateUp       State = "up"
	StateCrashed  State = "crashed"
	StateStopped  State = "stopped"
)

// restartDelays paces crash restarts
// - the first 5 Fibonacci seconds, then every crash waits the final value
var restartDelays = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	3 * time.Second,
	5 * time.Second,
	8 * time.Second,
}

// A Dyno is the externally visible status of one supervised process.
type Dyno struct {
	App       string    `json:"app"`
	Proc      string    `json:"proc"`
	Command   string    `json:"command"`
	State     State     `json:"state"`
	Restarts  int       `json:"restarts"`
	StartedAt time.Time `json:"started_at"`
}

// A Spec describes everything needed to run one release of an app.
type Spec struct {
	App string
	// Dir is the release directory the processes run in.
	Dir string
	// Procfile declares the process types to launch.
	Procfile manifest.Procfile
	// Env is the app's config vars.
	Env map[string]string
	// Port is injected as $PORT into the web process.
	Port int
}

// Publisher receives the dynos' log output.  *logstream.Hub satisfies this.
type Publisher interface {
	Publish(ctx context.Context, line logstream.Line) error
}

// Logger defines the required behavior for the supervisor's logger.
type Logger interface {
	Info(msg string, kvs ...any)
	Debug(msg string, kvs ...any)
	Error(err error, msg string, kvs ...any)
}

// Supervisor launches and restarts dynos for any number of apps.
type Supervisor struct {
	logs Publisher
	log  Logger

	mu   sync.Mutex
	apps map[string]*appProcs
}

type appProcs struct {
	spec  Spec
	procs map[string]*process
}

// New returns a Supervisor routing process output to logs.
func New(logs Publisher, log Logger) *Supervisor {
	return &Supervisor{
		logs: logs,
		log:  log,
		apps: make(map[string]*appProcs),
	}
}

// Start launches one dyno per Procfile process for the given spec, stopping
// any dynos from a previous release of the same app first.
func (s *Supervisor) Start(ctx context.Context, spec Spec) error {
	s.Stop(spec.App)

	s.mu.Lock()
	defer s.mu.Unlock()
	ap := &appProcs{
		spec:  spec,
		procs: make(map[string]*process),
	}
	s.apps[spec.App] = ap
	for _, pt := range spec.Procfile.Processes {
		p := newProcess(spec, pt, s.logs, s.log)
		ap.procs[pt.Name] = p
		p.start(ctx)
	}
	s.log.Info("started app processes", "app", spec.App, "processes", len(ap.procs), "dir", spec.Dir)
	return nil
}

// Restart stops all of an app's dynos and starts them again from the same
// release.  This is the operator-facing recovery action for a misbehaving app.
func (s *Supervisor) Restart(ctx context.Context, app string) error {
	s.mu.Lock()
	ap, ok := s.apps[app]
	var spec Spec
	if ok {
		spec = ap.spec
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no running processes for app %q", app)
	}
	return s.Start(ctx, spec)
}

// Stop terminates all dynos for the app.  Stopping an app with no dynos is a
// no-op.
func (s *Supervisor) Stop(app string) {
	s.mu.Lock()
	ap, ok := s.apps[app]
	if ok {
		delete(s.apps, app)
	}
	s.mu.Unlock()
	if !ok {
		return
	}
	for _, p := range ap.procs {
		p.stop()
	}
}

// StopAll terminates every supervised dyno.  Called on server shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	apps := make([]string, 0, len(s.apps))
	for name := range s.apps {
		apps = append(apps, name)
	}
	s.mu.Unlock()
	for _, name := range apps {
		s.Stop(name)
	}
}

// Running reports the total number of supervised dynos across all apps.
func (s *Supervisor) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ap := range s.apps {
		n += len(ap.procs)
	}
	return n
}

// List reports the current status of the app's dynos, sorted by process name.
func (s *Supervisor) List(app string) []Dyno {
	s.mu.Lock()
	defer s.mu.Unlock()
	ap, ok := s.apps[app]
	if !ok {
		return nil
	}
	out := make([]Dyno, 0, len(ap.procs))
	for _, p := range ap.procs {
		out = append(out, p.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Proc < out[j].Proc })
	return out
}

// process is one supervised dyno and its restart loop.
type process struct {
	spec Spec
	pt   manifest.Process
	logs Publisher
	log  Logger

	mu        sync.Mutex
	state     State
	restarts  int
	startedAt time.Time
	cancel    context.CancelFunc
	stopped   bool
}

func newProcess(spec Spec, pt manifest.Process, logs Publisher, log Logger) *process {
	return &process{
		spec:  spec,
		pt:    pt,
		logs:  logs,
		log:   log,
		state: StateStarting,
	}
}

// dynoName is the log source tag, ex: "web.1".
func (p *process) dynoName() string {
	return p.pt.Name + ".1"
}

func (p *process) status() Dyno {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Dyno{
		App:       p.spec.App,
		Proc:      p.dynoName(),
		Command:   p.pt.Command,
		State:     p.state,
		Restarts:  p.restarts,
		StartedAt: p.startedAt,
	}
}

func (p *process) start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	go p.run(runCtx)
}

func (p *process) stop() {
	p.mu.Lock()
	p.stopped = true
	p.state = StateStopped
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// run executes the process, restarting it with backoff on unexpected exit.
func (p *process) run(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		p.mu.Lock()
		if p.stopped {
			p.mu.Unlock()
			return
		}
		p.state = StateStarting
		p.startedAt = time.Now().UTC()
		if attempt > 0 {
			p.restarts = attempt
		}
		p.mu.Unlock()

		err := p.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		p.mu.Lock()
		p.state = StateCrashed
		p.mu.Unlock()
		p.log.Error(err, "app process exited", "app", p.spec.App, "proc", p.dynoName(), "restarts", attempt)
		p.publish(ctx, fmt.Sprintf("process exited unexpectedly, restarting (attempt %d)", attempt+1))

		wait := restartDelays[len(restartDelays)-1]
		if attempt < len(restartDelays) {
			wait = restartDelays[attempt]
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce starts the dyno's command and blocks until it exits.
func (p *process) runOnce(ctx context.Context) error {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", p.pt.Command)
	cmd.Dir = p.spec.Dir
	cmd.Env = p.environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("unable to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("unable to attach stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to start process: %w", err)
	}
	p.mu.Lock()
	p.state = StateUp
	p.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	scan := func(r *bufio.Scanner) {
		defer wg.Done()
		r.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for r.Scan() {
			p.publish(ctx, r.Text())
		}
	}
	go scan(bufio.NewScanner(stdout))
	go scan(bufio.NewScanner(stderr))
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("process exited: %w", err)
	}
	return fmt.Errorf("process exited cleanly but dynos are expected to run until stopped")
}

// environ builds the dyno's environment: the platform host environment,
// config vars, then the dyno identity vars.
func (p *process) environ() []string {
	env := os.Environ()
	for k, v := range p.spec.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, "DYNO="+p.dynoName())
	if p.pt.Name == manifest.WebProcess && p.spec.Port > 0 {
		env = append(env, "PORT="+strconv.Itoa(p.spec.Port))
	}
	return env
}

func (p *process) publish(ctx context.Context, text string) {
	_ = p.logs.Publish(ctx, logstream.Line{
		App:    p.spec.App,
		Source: logstream.SourceApp,
		Proc:   p.dynoName(),
		Time:   time.Now().UTC(),
		Text:   text,
	})
}
