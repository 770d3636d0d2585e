package proxy

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestBoundedCaptureExactSlice(t *testing.T) {
	tee := newBoundedCapture(8)

	n, err := tee.Write([]byte("12345"))
	if err != nil || n != 5 {
		t.Fatalf("expected full write of 5, got n=%d err=%v", n, err)
	}
	// Crosses the cap mid-chunk: only the remaining 3 bytes are kept.
	n, err = tee.Write([]byte("67890"))
	if err != nil || n != 5 {
		t.Fatalf("expected full write of 5 past the cap, got n=%d err=%v", n, err)
	}

	if got := string(tee.Bytes()); got != "12345678" {
		t.Fatalf("expected exact 8-byte prefix, got %q", got)
	}
	if tee.Total() != 10 {
		t.Fatalf("expected total of 10 bytes, got %d", tee.Total())
	}
	if !tee.Truncated() {
		t.Fatal("expected capture to report truncation")
	}
}

func TestBoundedCaptureNeverDelaysStream(t *testing.T) {
	tee := newBoundedCapture(4)
	payload := strings.Repeat("x", 1024)

	var wire bytes.Buffer
	n, err := io.Copy(&wire, io.TeeReader(strings.NewReader(payload), tee))
	if err != nil || n != int64(len(payload)) {
		t.Fatalf("expected %d bytes on the wire, got %d err=%v", len(payload), n, err)
	}
	if wire.Len() != len(payload) {
		t.Fatalf("wire bytes must be unaffected by the cap, got %d", wire.Len())
	}
	if tee.Len() != 4 {
		t.Fatalf("expected 4 captured bytes, got %d", tee.Len())
	}
}

func TestBoundedCaptureUnderLimit(t *testing.T) {
	tee := newBoundedCapture(64)
	if _, err := tee.Write([]byte("hello")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tee.Truncated() {
		t.Fatal("expected no truncation below the cap")
	}
	if got := string(tee.Bytes()); got != "hello" {
		t.Fatalf("expected full capture, got %q", got)
	}
}
