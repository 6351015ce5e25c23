package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type fakeTool struct {
	name string
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool " + f.name }
func (f *fakeTool) Args() Schema        { return Schema{} }
func (f *fakeTool) Execute(context.Context, map[string]any) (*Result, error) {
	return &Result{Success: true, Payload: map[string]any{}}, nil
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"read_file", "write_file", "list_dir", "unshare_exec"}
	for _, n := range names {
		r.Register(&fakeTool{name: n})
	}

	// List order must be registration order, not map order.
	for i := 0; i < 10; i++ {
		got := r.List()
		if len(got) != len(names) {
			t.Fatalf("List() returned %d names, want %d", len(got), len(names))
		}
		for j, n := range names {
			if got[j] != n {
				t.Fatalf("List()[%d] = %q, want %q", j, got[j], n)
			}
		}
	}

	all := r.All()
	for j, n := range names {
		if all[j].Name() != n {
			t.Errorf("All()[%d].Name() = %q, want %q", j, all[j].Name(), n)
		}
	}
}

func TestRegistryGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read_file"})

	if got := r.Get("read_file"); got == nil {
		t.Error("Get(read_file) = nil, want tool")
	}
	if got := r.Get("no_such_tool"); got != nil {
		t.Errorf("Get(no_such_tool) = %v, want nil", got)
	}
}

func TestRegistryDuplicatePanics(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeTool{name: "read_file"})

	defer func() {
		if recover() == nil {
			t.Error("duplicate registration did not panic")
		}
	}()
	r.Register(&fakeTool{name: "read_file"})
}

func TestTruncateOutput(t *testing.T) {
	short := "hello"
	if got := TruncateOutput(short, 100); got != short {
		t.Errorf("TruncateOutput(short) = %q, want unchanged", got)
	}

	long := strings.Repeat("x", 2000)
	got := TruncateOutput(long, 100)
	if len(got) > 100 {
		t.Errorf("len = %d, want <= 100", len(got))
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("truncated output lacks notice: %q", got[len(got)-30:])
	}
}

func TestErrorClassification(t *testing.T) {
	base := NewError(KindBinaryNotFound, "no such binary %q", "frob")
	if KindOf(base) != KindBinaryNotFound {
		t.Errorf("KindOf = %v, want BinaryNotFound", KindOf(base))
	}

	// Classification survives wrapping.
	wrapped := fmt.Errorf("dispatch: %w", base)
	if KindOf(wrapped) != KindBinaryNotFound {
		t.Errorf("KindOf(wrapped) = %v, want BinaryNotFound", KindOf(wrapped))
	}

	// Unclassified errors default to InternalError.
	if KindOf(errors.New("boom")) != KindInternalError {
		t.Errorf("KindOf(plain) = %v, want InternalError", KindOf(errors.New("boom")))
	}

	argErr := ArgumentError("path", "missing required argument %q", "path")
	if FieldOf(argErr) != "path" {
		t.Errorf("FieldOf = %q, want path", FieldOf(argErr))
	}
	if FieldOf(base) != "" {
		t.Errorf("FieldOf(non-arg) = %q, want empty", FieldOf(base))
	}
}

func TestWrapErrorKeepsCause(t *testing.T) {
	cause := errors.New("EACCES")
	err := WrapError(KindPermissionDenied, cause, "opening file")
	if !errors.Is(err, cause) {
		t.Error("wrapped error lost its cause")
	}
	if KindOf(err) != KindPermissionDenied {
		t.Errorf("KindOf = %v, want PermissionDenied", KindOf(err))
	}
}
