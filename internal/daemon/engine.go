//go:build linux

// Package daemon implements the environment-assembly daemon's control
// plane: a {env -> pending_setup} bookkeeping table, a forked-helper /
// SCM_RIGHTS namespace handoff protocol, and a gRPC front-end exposing
// both to clients.
//
// Engine is an explicit value rather than package-level state: the
// wrapper/daemon binary constructs exactly one Engine at start time and
// threads it through the gRPC service, so environments never live in
// package globals.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"

	"github.com/wormholefs/wormhole/internal/assemble"
	"github.com/wormholefs/wormhole/internal/layer"
)

// HelperEnvVar names the environment variable that tells a re-exec'd copy
// of the daemon binary that it is running as a setup helper rather than
// as the daemon itself; its value is the environment name being set up.
// cmd/wormhole's main() checks this before doing anything else.
const HelperEnvVar = "WORMHOLE_DAEMON_HELPER_ENV"

// envEntry is one row of the engine's environment table.
type envEntry struct {
	env   layer.Environment
	state assemble.State
	nsFD  int // -1 until an async setup hands one back
}

// pendingSetup tracks one in-flight forked-helper setup for an
// environment not yet backed by a namespace fd.
type pendingSetup struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

// Engine owns the environment table and the helper-process bookkeeping.
// It has no package-level state; every daemon process constructs exactly
// one.
type Engine struct {
	mu          sync.Mutex
	helperPath  string // argv[0] to re-exec for a setup helper
	assembleOpt assemble.Options
	envs        map[string]*envEntry
	pending     map[string]*pendingSetup
}

// NewEngine constructs an Engine. helperPath is the executable to re-exec
// (with HelperEnvVar set) when an async setup is requested; it is
// ordinarily the daemon's own executable path (os.Executable).
func NewEngine(helperPath string, assembleOpt assemble.Options) *Engine {
	return &Engine{
		helperPath:  helperPath,
		assembleOpt: assembleOpt,
		envs:        make(map[string]*envEntry),
		pending:     make(map[string]*pendingSetup),
	}
}

// Register adds (or replaces) env in the table, in the Configured state.
func (e *Engine) Register(env layer.Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.envs[env.Name] = &envEntry{env: env, state: assemble.Configured, nsFD: -1}
}

// Names returns every registered environment name.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.envs))
	for name := range e.envs {
		out = append(out, name)
	}
	return out
}

// State reports the current assembly state of the named environment.
func (e *Engine) State(name string) (assemble.State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.envs[name]
	if !ok {
		return 0, false
	}
	return entry.state, true
}

// AssembleInline assembles the named environment synchronously, in this
// process's own mount namespace. It is the synchronous counterpart to
// BeginAsyncSetup, used when the caller does not need namespace
// isolation from the daemon itself (e.g. a one-shot CLI invocation).
func (e *Engine) AssembleInline(ctx context.Context, name string) error {
	e.mu.Lock()
	entry, ok := e.envs[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: no such environment %q", name)
	}

	asm := assemble.New(e.assembleOpt)
	updatedEnv, err := asm.Assemble(ctx, entry.env)

	e.mu.Lock()
	defer e.mu.Unlock()
	entry.env = updatedEnv
	if err != nil {
		entry.state = assemble.Failed
		return err
	}
	entry.state = asm.State()
	return nil
}

// BeginAsyncSetup starts a forked-helper setup for the named environment,
// parallel-setup contract. A second call while one is
// already pending for the same environment is a protocol error.
func (e *Engine) BeginAsyncSetup(name string) error {
	e.mu.Lock()
	if _, ok := e.envs[name]; !ok {
		e.mu.Unlock()
		return fmt.Errorf("daemon: no such environment %q", name)
	}
	if _, busy := e.pending[name]; busy {
		e.mu.Unlock()
		return fmt.Errorf("daemon: protocol error: async setup already pending for %q", name)
	}
	entry := e.envs[name]
	entry.state = assemble.Assembling
	e.mu.Unlock()

	parentConn, childConn, err := socketpair()
	if err != nil {
		return fmt.Errorf("daemon: socketpair: %w", err)
	}

	cmd := exec.Command(e.helperPath)
	cmd.Env = append(os.Environ(), HelperEnvVar+"="+name)
	cmd.ExtraFiles = []*os.File{childConn}
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		childConn.Close()
		parentConn.Close()
		return fmt.Errorf("daemon: start setup helper: %w", err)
	}
	childConn.Close()

	p := &pendingSetup{cmd: cmd, done: make(chan struct{})}
	e.mu.Lock()
	e.pending[name] = p
	e.mu.Unlock()

	unixConn, err := fileToUnixConn(parentConn)
	if err != nil {
		p.err = err
		close(p.done)
		return err
	}

	go e.reapHelper(name, p, unixConn)
	return nil
}

// reapHelper waits for the helper's namespace fd, then waits for the
// helper process to exit, and finally records the outcome — "reaps
// helpers when they exit"
func (e *Engine) reapHelper(name string, p *pendingSetup, conn *net.UnixConn) {
	defer conn.Close()
	defer close(p.done)

	fd, recvErr := recvNamespaceFD(conn)
	waitErr := p.cmd.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	entry := e.envs[name]
	delete(e.pending, name)

	switch {
	case recvErr != nil:
		p.err = recvErr
		entry.state = assemble.Failed
	case waitErr != nil:
		p.err = fmt.Errorf("daemon: setup helper for %q: %w", name, waitErr)
		entry.state = assemble.Failed
	default:
		entry.nsFD = fd
		entry.state = assemble.Ready
	}
}

// WaitAsyncSetup blocks until the named environment's pending async setup
// (if any) completes, then returns its outcome. It returns an error if no
// setup was pending.
func (e *Engine) WaitAsyncSetup(name string) error {
	e.mu.Lock()
	p, ok := e.pending[name]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("daemon: no async setup pending for %q", name)
	}
	<-p.done
	return p.err
}

// NamespaceFD returns the namespace file descriptor obtained for name by
// a completed async setup, for handing off to an attaching client.
func (e *Engine) NamespaceFD(name string) (int, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.envs[name]
	if !ok || entry.nsFD < 0 {
		return -1, false
	}
	return entry.nsFD, true
}
