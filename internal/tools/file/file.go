// Package file implements the plain host-filesystem tools: read_file,
// write_file, and list_dir. No kernel isolation is applied here — these are
// simple pass-through I/O handlers, optionally confined under a root
// directory with symlink protection.
package file

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/nsbox/internal/tools"
)

// Config configures file tool restrictions.
type Config struct {
	// Root confines every path under this directory when non-empty.
	// Empty = paths are used verbatim.
	Root string

	// MaxFileSizeBytes is the maximum file size for read/write. 0 = 10 MB.
	MaxFileSizeBytes int64
}

const defaultMaxFileSize = 10 << 20 // 10 MB

// resolve maps a caller-supplied path to the real filesystem path and, when
// a root is configured, verifies it stays inside it.
//
// Symlinks are resolved first so a link pointing outside the root cannot
// escape; for not-yet-existing targets (the write case) the parent is
// resolved instead.
func resolve(raw, root string) (string, error) {
	if raw == "" {
		return "", tools.ArgumentError("path", "path must not be empty")
	}

	path := raw
	if root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", tools.ArgumentError("path", "resolving path %q: %v", raw, err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		parentResolved, parentErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if parentErr != nil {
			resolved = abs
		} else {
			resolved = filepath.Join(parentResolved, filepath.Base(abs))
		}
	}

	if root != "" {
		absRoot, err := filepath.Abs(root)
		if err != nil {
			return "", fmt.Errorf("resolving root %q: %w", root, err)
		}
		if realRoot, err := filepath.EvalSymlinks(absRoot); err == nil {
			absRoot = realRoot
		}
		if resolved != absRoot && !strings.HasPrefix(resolved, absRoot+string(filepath.Separator)) {
			return "", tools.ArgumentError("path", "path %q escapes the configured root", raw)
		}
	}

	return resolved, nil
}

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// ---- ReadTool ----

// ReadTool reads file contents.
type ReadTool struct {
	config Config
	logger *slog.Logger
}

// NewReadTool creates the read_file tool.
func NewReadTool(cfg Config, logger *slog.Logger) *ReadTool {
	return &ReadTool{config: cfg, logger: logger}
}

func (t *ReadTool) Name() string        { return "read_file" }
func (t *ReadTool) Description() string { return "Read a file as UTF-8 text" }

func (t *ReadTool) Args() tools.Schema {
	return tools.Schema{
		"path":   {Type: tools.TypeString, Required: true, Description: "Path to the file to read"},
		"offset": {Type: tools.TypeInt, Required: false, Description: "Byte offset to start reading from"},
		"length": {Type: tools.TypeInt, Required: false, Description: "Maximum number of bytes to read"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.StringArg(params, "path")
	if err != nil {
		return nil, err
	}
	offset := tools.OptionalInt(params, "offset", 0)
	if offset < 0 {
		return nil, tools.ArgumentError("offset", "offset must not be negative, got %d", offset)
	}
	length := -1
	if _, ok := params["length"]; ok {
		length = tools.OptionalInt(params, "length", 0)
		if length < 0 {
			return nil, tools.ArgumentError("length", "length must not be negative, got %d", length)
		}
	}

	resolved, err := resolve(path, t.config.Root)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "read_file executing",
		slog.String("path", resolved),
		slog.Int("offset", offset),
		slog.Int("length", length),
	)

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, classifyIOError(err, "stat %s", resolved)
	}
	if info.IsDir() {
		return nil, tools.NewError(tools.KindIOFailure, "%s is a directory, use list_dir", resolved)
	}

	// Bounds saturate against the file size: an offset past EOF yields an
	// empty read, a length past EOF stops at EOF. Only the resulting window
	// is size-limited, so large files stay readable page by page.
	start := min(int64(offset), info.Size())
	end := info.Size()
	if length >= 0 {
		end = min(start+int64(length), info.Size())
	}
	window := end - start
	if window > maxSize(t.config) {
		return nil, tools.NewError(tools.KindIOFailure,
			"read of %d bytes exceeds limit %d, use offset/length to paginate", window, maxSize(t.config))
	}

	f, err := os.Open(resolved)
	if err != nil {
		return nil, classifyIOError(err, "opening %s", resolved)
	}
	defer f.Close()

	data := make([]byte, window)
	if window > 0 {
		n, err := f.ReadAt(data, start)
		if err != nil && err != io.EOF {
			return nil, classifyIOError(err, "reading %s", resolved)
		}
		data = data[:n]
	}

	return &tools.Result{
		Success: true,
		Payload: map[string]any{
			"content":    tools.TruncateOutput(string(data), tools.MaxOutputBytes),
			"size_bytes": info.Size(),
			"path":       resolved,
		},
	}, nil
}

// ---- WriteTool ----

// WriteTool writes or appends file contents.
type WriteTool struct {
	config Config
	logger *slog.Logger
}

// NewWriteTool creates the write_file tool.
func NewWriteTool(cfg Config, logger *slog.Logger) *WriteTool {
	return &WriteTool{config: cfg, logger: logger}
}

func (t *WriteTool) Name() string        { return "write_file" }
func (t *WriteTool) Description() string { return "Write UTF-8 text to a file (overwrite or append)" }

func (t *WriteTool) Args() tools.Schema {
	return tools.Schema{
		"path":    {Type: tools.TypeString, Required: true, Description: "Path to the file to write"},
		"content": {Type: tools.TypeString, Required: true, Description: "Content to write"},
		"append":  {Type: tools.TypeBool, Required: true, Description: "Append to the file instead of overwriting"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.StringArg(params, "path")
	if err != nil {
		return nil, err
	}
	content, err := tools.StringArg(params, "content")
	if err != nil {
		return nil, err
	}
	appendMode, err := tools.BoolArg(params, "append")
	if err != nil {
		return nil, err
	}

	if int64(len(content)) > maxSize(t.config) {
		return nil, tools.ArgumentError("content",
			"content size %d exceeds limit %d bytes", len(content), maxSize(t.config))
	}

	resolved, err := resolve(path, t.config.Root)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "write_file executing",
		slog.String("path", resolved),
		slog.Int("content_size", len(content)),
		slog.Bool("append", appendMode),
	)

	if err := os.MkdirAll(filepath.Dir(resolved), 0750); err != nil {
		return nil, classifyIOError(err, "creating parent directory for %s", resolved)
	}

	if appendMode {
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, fs.FileMode(0640))
		if err != nil {
			return nil, classifyIOError(err, "opening %s for append", resolved)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return nil, classifyIOError(err, "appending to %s", resolved)
		}
		if err := f.Close(); err != nil {
			return nil, classifyIOError(err, "closing %s", resolved)
		}
	} else {
		if err := os.WriteFile(resolved, []byte(content), fs.FileMode(0640)); err != nil {
			return nil, classifyIOError(err, "writing %s", resolved)
		}
	}

	return &tools.Result{
		Success: true,
		Payload: map[string]any{
			"bytes_written": len(content),
			"path":          resolved,
		},
	}, nil
}

// ---- ListTool ----

// ListTool lists directory entries.
type ListTool struct {
	config Config
	logger *slog.Logger
}

// NewListTool creates the list_dir tool.
func NewListTool(cfg Config, logger *slog.Logger) *ListTool {
	return &ListTool{config: cfg, logger: logger}
}

func (t *ListTool) Name() string        { return "list_dir" }
func (t *ListTool) Description() string { return "List files and directories under a given path" }

func (t *ListTool) Args() tools.Schema {
	return tools.Schema{
		"path":      {Type: tools.TypeString, Required: true, Description: "Path to the directory to list"},
		"recursive": {Type: tools.TypeBool, Required: false, Description: "Descend into subdirectories"},
	}
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	path, err := tools.StringArg(params, "path")
	if err != nil {
		return nil, err
	}
	recursive := tools.OptionalBool(params, "recursive", false)

	resolved, err := resolve(path, t.config.Root)
	if err != nil {
		return nil, err
	}

	t.logger.InfoContext(ctx, "list_dir executing",
		slog.String("path", resolved),
		slog.Bool("recursive", recursive),
	)

	var listed []map[string]any
	stack := []string{resolved}
	for len(stack) > 0 {
		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, classifyIOError(err, "listing %s", dir)
		}
		for _, e := range entries {
			p := filepath.Join(dir, e.Name())
			var size int64
			if info, err := e.Info(); err == nil {
				size = info.Size()
			}
			listed = append(listed, map[string]any{
				"path":   p,
				"is_dir": e.IsDir(),
				"size":   size,
			})
			if recursive && e.IsDir() {
				stack = append(stack, p)
			}
		}
	}

	return &tools.Result{
		Success: true,
		Payload: map[string]any{
			"entries": listed,
			"count":   len(listed),
		},
	}, nil
}

// classifyIOError wraps a filesystem error as an IOFailure or
// PermissionDenied, keeping the underlying cause in the chain.
func classifyIOError(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if errors.Is(err, fs.ErrPermission) {
		return tools.WrapError(tools.KindPermissionDenied, err, "%s", msg)
	}
	return tools.WrapError(tools.KindIOFailure, err, "%s", msg)
}
