package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const (
	defaultTimeout = 30 * time.Second

	// defaultMaxOutputBytes caps each captured stream to prevent OOM from
	// chatty binaries.
	defaultMaxOutputBytes = 1 << 20 // 1 MB

	// drainDelay bounds the output drain after cancellation. Without a PID
	// namespace, a grandchild that re-sessions itself survives the group
	// kill; if it keeps the pipes open, os/exec force-closes them after this
	// delay so Wait cannot block past the timeout.
	drainDelay = 3 * time.Second
)

// Config configures the namespace executor.
type Config struct {
	// DefaultTimeout applies when a request carries none. Zero = 30s.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps each of stdout/stderr. Zero = 1 MB.
	MaxOutputBytes int

	// WorkDir is the parent for per-execution temp directories.
	// Empty = the system temp dir.
	WorkDir string

	// DefaultNamespaces overrides the built-in default isolation set
	// applied when a request names none. Empty = DefaultNamespaces().
	DefaultNamespaces []Namespace
}

// NamespaceExecutor runs binaries inside freshly unshared kernel namespaces.
//
// Guarantees:
//   - Namespace composition is atomic: all requested namespaces are set as
//     clone(2) flags on a single fork, so they are in effect before the
//     target's first instruction, or the fork fails and nothing runs.
//   - The child runs in its own process group; the timeout policy kills the
//     whole group, not just the immediate child.
//   - Each execution gets its own temp working directory (removed after)
//     and a minimal environment with no host inheritance.
//   - stdout and stderr are drained by concurrent readers joined before
//     wait, so neither stream can deadlock the other on a full pipe.
type NamespaceExecutor struct {
	timeout    time.Duration
	maxOutput  int
	workDir    string
	defaultSet []Namespace
	logger     *slog.Logger
}

// New creates a namespace executor.
func New(cfg Config, logger *slog.Logger) *NamespaceExecutor {
	timeout := cfg.DefaultTimeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = defaultMaxOutputBytes
	}
	defaultSet := cfg.DefaultNamespaces
	if len(defaultSet) == 0 {
		defaultSet = DefaultNamespaces()
	}
	return &NamespaceExecutor{
		timeout:    timeout,
		maxOutput:  maxOutput,
		workDir:    cfg.WorkDir,
		defaultSet: defaultSet,
		logger:     logger,
	}
}

// Execute runs the request to completion and reports the outcome.
// A nonzero exit code is not an error: it comes back in the result.
func (e *NamespaceExecutor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	path, err := e.resolveBinary(req.Binary)
	if err != nil {
		return nil, err
	}

	namespaces := req.Namespaces
	if namespaces == nil {
		namespaces = e.defaultSet
	}
	flags, err := cloneFlags(namespaces)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNamespaceSetup, err)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	workDir := req.WorkingDir
	if workDir == "" {
		tmpDir, err := os.MkdirTemp(e.workDir, "nsbox-exec-*")
		if err != nil {
			return nil, fmt.Errorf("%w: creating work dir: %v", ErrSpawn, err)
		}
		defer func() {
			if rmErr := os.RemoveAll(tmpDir); rmErr != nil {
				e.logger.Warn("failed to remove execution work dir",
					slog.String("dir", tmpDir),
					slog.String("error", rmErr.Error()),
				)
			}
		}()
		workDir = tmpDir
	}

	cmd := exec.CommandContext(ctx, path, req.Args...)
	cmd.Dir = workDir
	cmd.Env = buildEnv(workDir, req.Env)
	cmd.SysProcAttr = sysProcAttr(flags)
	cmd.WaitDelay = drainDelay

	// Kill the entire process group on timeout/cancel so grandchildren
	// cannot outlive the request.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	e.logger.Info("sandbox executing",
		slog.String("binary", path),
		slog.Any("args", req.Args),
		slog.Any("namespaces", namespaces),
		slog.String("dir", workDir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, classifyStartError(err, flags != 0)
	}

	// Both streams are drained concurrently and joined before Wait — the
	// classic deadlock-avoidance pattern for child process I/O capture.
	var stdoutBuf, stderrBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(&limitedWriter{w: &stdoutBuf, remaining: e.maxOutput}, stdoutPipe)
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&limitedWriter{w: &stderrBuf, remaining: e.maxOutput}, stderrPipe)
		return err
	})
	copyErr := g.Wait()
	waitErr := cmd.Wait()
	duration := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		e.logger.Warn("sandbox execution timed out",
			slog.String("binary", path),
			slog.Duration("timeout", timeout),
		)
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	if copyErr != nil && waitErr == nil {
		return nil, fmt.Errorf("%w: draining output: %v", ErrSpawn, copyErr)
	}

	result := &ExecutionResult{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: duration,
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return nil, fmt.Errorf("%w: %v", ErrSpawn, waitErr)
		}
		result.ExitCode = exitErr.ExitCode()
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			result.Signal = unix.SignalName(unix.Signal(ws.Signal()))
		}
	}

	e.logger.Info("sandbox execution completed",
		slog.String("binary", path),
		slog.Int("exit_code", result.ExitCode),
		slog.String("signal", result.Signal),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdoutBuf.Len()),
		slog.Int("stderr_bytes", stderrBuf.Len()),
	)

	return result, nil
}

// resolveBinary validates the target eagerly so unresolvable paths fail fast
// instead of surfacing as an opaque fork/exec error.
func (e *NamespaceExecutor) resolveBinary(binary string) (string, error) {
	if binary == "" {
		return "", fmt.Errorf("%w: empty binary path", ErrBinaryNotFound)
	}
	path, err := exec.LookPath(binary)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return "", fmt.Errorf("%w: %s", ErrNotExecutable, binary)
		}
		return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, binary)
	}
	return path, nil
}

// cloneFlags folds the namespace set into clone(2) flags. Duplicates are
// harmless; unknown values reject the whole request.
func cloneFlags(namespaces []Namespace) (uintptr, error) {
	var flags uintptr
	for _, ns := range namespaces {
		switch ns {
		case NamespacePID:
			flags |= unix.CLONE_NEWPID
		case NamespaceMount:
			flags |= unix.CLONE_NEWNS
		case NamespaceUTS:
			flags |= unix.CLONE_NEWUTS
		case NamespaceIPC:
			flags |= unix.CLONE_NEWIPC
		case NamespaceNet:
			flags |= unix.CLONE_NEWNET
		case NamespaceUser:
			flags |= unix.CLONE_NEWUSER
		default:
			return 0, fmt.Errorf("unknown namespace %q", ns)
		}
	}
	return flags, nil
}

// sysProcAttr builds the process attributes: its own process group plus the
// namespace clone flags. When a user namespace is requested the current
// user/group are mapped to root inside it, which in turn grants the
// privilege to create the sibling namespaces without host root.
func sysProcAttr(flags uintptr) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:    true,
		Cloneflags: flags,
	}
	if flags&unix.CLONE_NEWUSER != 0 {
		attr.UidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getuid(), Size: 1},
		}
		attr.GidMappings = []syscall.SysProcIDMap{
			{ContainerID: 0, HostID: os.Getgid(), Size: 1},
		}
		attr.GidMappingsEnableSetgroups = false
	}
	return attr
}

// classifyStartError maps a fork/exec failure onto the sandbox failure
// classes. With namespaces requested, EPERM/EINVAL/ENOSYS mean the kernel
// refused the isolation itself — reported as such, never downgraded.
func classifyStartError(err error, isolated bool) error {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch {
		case isolated && (errno == unix.EPERM || errno == unix.EINVAL || errno == unix.ENOSYS):
			return fmt.Errorf("%w: %v", ErrNamespaceSetup, err)
		case errno == unix.EACCES:
			return fmt.Errorf("%w: %v", ErrNotExecutable, err)
		case errno == unix.ENOENT:
			return fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
		}
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrBinaryNotFound, err)
	}
	return fmt.Errorf("%w: %v", ErrSpawn, err)
}

// buildEnv constructs a minimal environment. The parent's environment is
// never inherited, so host credentials cannot leak into the sandbox.
func buildEnv(workDir string, extra map[string]string) []string {
	env := []string{
		"PATH=/usr/local/bin:/usr/bin:/bin",
		"HOME=" + workDir,
		"TMPDIR=" + workDir,
		"LANG=en_US.UTF-8",
		"TERM=dumb",
	}
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

// limitedWriter stops writing after a byte limit. Excess data is silently
// discarded, not an error.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.remaining <= 0 {
		return len(p), nil
	}
	if len(p) > lw.remaining {
		n, err := lw.w.Write(p[:lw.remaining])
		lw.remaining -= n
		if err != nil {
			return n, err
		}
		return len(p), nil
	}
	n, err := lw.w.Write(p)
	lw.remaining -= n
	return n, err
}
