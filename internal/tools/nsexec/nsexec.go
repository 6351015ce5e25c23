// Package nsexec implements the unshare_exec tool: it runs a binary inside
// isolated Linux namespaces via the sandbox executor and reports the exit
// status together with the captured output.
package nsexec

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jkaninda/nsbox/internal/observability"
	"github.com/jkaninda/nsbox/internal/sandbox"
	"github.com/jkaninda/nsbox/internal/tools"
)

// Tool executes binaries through the namespace sandbox.
type Tool struct {
	executor sandbox.Executor
	metrics  *observability.MetricsCollector // nil when metrics are disabled
	logger   *slog.Logger
}

// New creates the unshare_exec tool delegating all execution to the given executor.
func New(executor sandbox.Executor, metrics *observability.MetricsCollector, logger *slog.Logger) *Tool {
	return &Tool{executor: executor, metrics: metrics, logger: logger}
}

func (t *Tool) Name() string { return "unshare_exec" }

func (t *Tool) Description() string {
	return "Run a binary in isolated Linux namespaces (mount, PID, UTS, IPC by default)"
}

func (t *Tool) Args() tools.Schema {
	return tools.Schema{
		"binary": {Type: tools.TypeString, Required: true,
			Description: "Absolute or PATH-resolvable path of the binary to run"},
		"args": {Type: tools.TypeStringArray, Required: false,
			Description: "Argument vector passed to the binary"},
		"namespaces": {Type: tools.TypeStringArray, Required: false,
			Description: "Namespaces to isolate (pid, mount, uts, ipc, net, user); overrides the default set"},
		"timeout": {Type: tools.TypeString, Required: false,
			Description: "Duration string (e.g. '10s', '1m'), overrides the default timeout"},
	}
}

// Execute runs the binary and wraps the outcome. A nonzero exit code is a
// successful call: the code comes back in the payload, with Success=false
// only marking it for logs and metrics.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	req, err := t.buildRequest(params)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "unshare_exec executing",
		slog.String("binary", req.Binary),
		slog.Any("namespaces", req.Namespaces),
	)

	result, err := t.executor.Execute(ctx, *req)
	if err != nil {
		t.metrics.RecordSandboxExecution("error", 0)
		return nil, classifyExecError(err)
	}

	status := "ok"
	if result.ExitCode != 0 || result.Signal != "" {
		status = "nonzero_exit"
	}
	t.metrics.RecordSandboxExecution(status, result.Duration.Seconds())

	payload := map[string]any{
		"exit_code":   result.ExitCode,
		"stdout":      tools.TruncateOutput(result.Stdout, tools.MaxOutputBytes),
		"stderr":      tools.TruncateOutput(result.Stderr, tools.MaxOutputBytes),
		"duration_ms": result.Duration.Milliseconds(),
	}
	if result.Signal != "" {
		payload["signal"] = result.Signal
	}

	return &tools.Result{
		Payload: payload,
		Success: result.ExitCode == 0 && result.Signal == "",
	}, nil
}

// buildRequest converts validated wire params into an ExecutionRequest.
func (t *Tool) buildRequest(params map[string]any) (*sandbox.ExecutionRequest, error) {
	binary, err := tools.StringArg(params, "binary")
	if err != nil {
		return nil, err
	}
	if binary == "" {
		return nil, tools.ArgumentError("binary", "binary must not be empty")
	}

	args, err := tools.StringSliceArg(params, "args")
	if err != nil {
		return nil, err
	}

	req := &sandbox.ExecutionRequest{Binary: binary, Args: args}

	if raw, err := tools.StringSliceArg(params, "namespaces"); err != nil {
		return nil, err
	} else if raw != nil {
		namespaces := make([]sandbox.Namespace, 0, len(raw))
		for _, s := range raw {
			ns, err := sandbox.ParseNamespace(s)
			if err != nil {
				return nil, tools.ArgumentError("namespaces", "%v", err)
			}
			namespaces = append(namespaces, ns)
		}
		req.Namespaces = namespaces
	}

	if timeout := tools.OptionalString(params, "timeout", ""); timeout != "" {
		d, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, tools.ArgumentError("timeout", "invalid timeout %q: %v", timeout, err)
		}
		if d <= 0 {
			return nil, tools.ArgumentError("timeout", "timeout must be positive, got %q", timeout)
		}
		req.Timeout = d
	}

	return req, nil
}

// classifyExecError maps sandbox failure classes onto the wire taxonomy.
func classifyExecError(err error) error {
	switch {
	case errors.Is(err, sandbox.ErrNamespaceSetup):
		return tools.WrapError(tools.KindNamespaceSetupFailed, err, "isolation could not be established")
	case errors.Is(err, sandbox.ErrBinaryNotFound):
		return tools.WrapError(tools.KindBinaryNotFound, err, "target binary not found")
	case errors.Is(err, sandbox.ErrNotExecutable):
		return tools.WrapError(tools.KindPermissionDenied, err, "target binary not executable")
	case errors.Is(err, sandbox.ErrTimeout):
		return tools.WrapError(tools.KindExecutionTimeout, err, "sandboxed process killed by timeout policy")
	case errors.Is(err, sandbox.ErrSpawn):
		return tools.WrapError(tools.KindSpawnFailed, err, "spawning sandboxed process failed")
	default:
		return tools.WrapError(tools.KindInternalError, err, "sandbox execution failed")
	}
}
