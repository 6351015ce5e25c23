// Package sandbox executes external binaries inside isolated Linux kernel
// namespaces. Isolation is all-or-nothing: when a requested namespace cannot
// be created, the binary is not run at all — there is no fallback to an
// unisolated execution.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Namespace is one kernel isolation dimension, independently togglable.
type Namespace string

const (
	NamespacePID   Namespace = "pid"
	NamespaceMount Namespace = "mount"
	NamespaceUTS   Namespace = "uts"
	NamespaceIPC   Namespace = "ipc"
	NamespaceNet   Namespace = "net"
	NamespaceUser  Namespace = "user"
)

// ParseNamespace maps a wire string to a Namespace. "mnt" and "network" are
// accepted aliases for their unshare(1) spellings.
func ParseNamespace(s string) (Namespace, error) {
	switch s {
	case "pid":
		return NamespacePID, nil
	case "mount", "mnt":
		return NamespaceMount, nil
	case "uts":
		return NamespaceUTS, nil
	case "ipc":
		return NamespaceIPC, nil
	case "net", "network":
		return NamespaceNet, nil
	case "user":
		return NamespaceUser, nil
	default:
		return "", fmt.Errorf("unknown namespace %q", s)
	}
}

// DefaultNamespaces is the conservative set isolated when a request names
// none: the child gets its own mount table, process tree, hostname, and IPC
// objects. Network and user namespaces are opt-in because they commonly
// break target binaries (no loopback, remapped ids).
func DefaultNamespaces() []Namespace {
	return []Namespace{NamespaceMount, NamespacePID, NamespaceUTS, NamespaceIPC}
}

// ExecutionRequest defines what to run and how to isolate it.
type ExecutionRequest struct {
	// Binary is the target program, absolute or resolvable via PATH.
	Binary string

	// Args is the argument vector passed to the binary (argv[1:]).
	Args []string

	// Namespaces to unshare. Nil = DefaultNamespaces(). Empty non-nil
	// slice = no isolation (callers must opt out explicitly).
	Namespaces []Namespace

	// WorkingDir overrides the working directory. Empty = per-execution temp dir.
	WorkingDir string

	// Env adds variables on top of the sanitized base environment.
	Env map[string]string

	// Timeout overrides the executor default. Zero = use default.
	Timeout time.Duration
}

// ExecutionResult captures the outcome of a completed execution.
type ExecutionResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Signal is the terminating signal name (e.g. "SIGKILL") when the
	// child did not exit normally; ExitCode is -1 in that case.
	Signal   string
	Duration time.Duration
}

// Executor runs a binary under the requested isolation.
type Executor interface {
	Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error)
}

// Failure classes. Callers branch with errors.Is; the exec tool maps them
// onto the wire error taxonomy.
var (
	// ErrBinaryNotFound: the target path is empty or does not resolve.
	ErrBinaryNotFound = errors.New("binary not found")

	// ErrNotExecutable: the target exists but cannot be executed.
	ErrNotExecutable = errors.New("binary not executable")

	// ErrNamespaceSetup: the kernel refused the requested namespace
	// composition (insufficient privilege or missing kernel support).
	// No child process was started.
	ErrNamespaceSetup = errors.New("namespace setup failed")

	// ErrSpawn: fork/exec failed for reasons unrelated to isolation,
	// typically resource exhaustion.
	ErrSpawn = errors.New("spawn failed")

	// ErrTimeout: the timeout policy killed the process group.
	ErrTimeout = errors.New("execution timed out")
)
