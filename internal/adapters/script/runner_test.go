package script

import (
	"bytes"
	"context"
	"testing"
)

func TestLimitedBufferTruncatesAtLimit(t *testing.T) {
	var buf bytes.Buffer
	w := boundedWriter(&buf, 10)

	n, err := w.Write([]byte("0123456789ABCDEF"))
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if n != 16 {
		t.Errorf("Write() reported n = %d, want 16 (callers expect full-write semantics)", n)
	}
	if buf.Len() != 10 {
		t.Errorf("buffered %d bytes, want capped at 10", buf.Len())
	}
	if buf.String() != "0123456789" {
		t.Errorf("buffer = %q, want %q", buf.String(), "0123456789")
	}
}

func TestLimitedBufferStopsAcceptingPastLimit(t *testing.T) {
	var buf bytes.Buffer
	w := boundedWriter(&buf, 4)

	w.Write([]byte("1234"))
	w.Write([]byte("5678"))

	if buf.String() != "1234" {
		t.Errorf("buffer = %q, want %q", buf.String(), "1234")
	}
}

func TestBuildCommandDispatchesByExtension(t *testing.T) {
	r := &Runner{scriptsDir: "/scripts"}

	jsCmd := r.buildCommand(context.Background(), "task.js", nil)
	if jsCmd.Path == "" || jsCmd.Args[0] != "node" {
		t.Errorf("buildCommand(.js) = %v, want node invocation", jsCmd.Args)
	}

	shCmd := r.buildCommand(context.Background(), "task.sh", nil)
	if shCmd.Args[0] != "sh" {
		t.Errorf("buildCommand(.sh) = %v, want sh invocation", shCmd.Args)
	}
}
