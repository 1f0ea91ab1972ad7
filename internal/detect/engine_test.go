package detect

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"
)

// TestFrameRoundTrip verifies length-prefixed messages read back intact.
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	payloads := [][]byte{
		[]byte("hello worker"),
		{},
		bytes.Repeat([]byte{0xAB}, 4096),
	}
	for _, p := range payloads {
		if err := writeFrame(&buf, p); err != nil {
			t.Fatalf("writeFrame: %v", err)
		}
	}
	for i, want := range payloads {
		got, err := readFrame(&buf)
		if err != nil {
			t.Fatalf("readFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("frame %d = %d bytes, want %d", i, len(got), len(want))
		}
	}
	if _, err := readFrame(&buf); err != io.EOF {
		t.Fatalf("read past end = %v, want io.EOF", err)
	}
}

// TestReadFrameTruncated verifies a short payload reports an unexpected EOF
// instead of returning partial data.
func TestReadFrameTruncated(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 100)
	buf.Write(prefix[:])
	buf.WriteString("short")

	if _, err := readFrame(&buf); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want io.ErrUnexpectedEOF", err)
	}
}

// TestReadFrameRejectsOversize verifies a hostile length prefix is refused
// before allocation.
func TestReadFrameRejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], maxFrameSize+1)
	buf.Write(prefix[:])

	if _, err := readFrame(&buf); err == nil {
		t.Fatal("oversize frame accepted")
	}
}

// TestNewEngineRequiresScript verifies config validation.
func TestNewEngineRequiresScript(t *testing.T) {
	if _, err := NewEngine(EngineConfig{}); err == nil {
		t.Fatal("empty script accepted")
	}
}

// TestInferBeforeStart verifies a stopped engine refuses work with the
// sentinel error.
func TestInferBeforeStart(t *testing.T) {
	e, err := NewEngine(EngineConfig{Script: "/bin/true"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Infer(nil); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

// TestStartReadyTimeout verifies a worker that never completes the handshake
// fails startup within the configured deadline.
func TestStartReadyTimeout(t *testing.T) {
	e, err := NewEngine(EngineConfig{
		Script:       "/bin/cat",
		ReadyTimeout: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}

	begin := time.Now()
	err = e.Start(context.Background())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Start err = %v, want ErrUnavailable", err)
	}
	if elapsed := time.Since(begin); elapsed > 5*time.Second {
		t.Fatalf("Start took %s, deadline not enforced", elapsed)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop after failed Start: %v", err)
	}
}

// TestStopWithoutStart verifies Stop is a no-op on a never-started engine.
func TestStopWithoutStart(t *testing.T) {
	e, err := NewEngine(EngineConfig{Script: "/bin/true"})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
