// Package detect runs person detection: a subprocess inference engine spoken
// to over length-prefixed msgpack, and an adapter that packs frames into the
// model's input tensor and decodes its output into at most one person box.
package detect

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrUnavailable means the inference engine is not running or stopped
// responding. At startup this is fatal; at runtime callers treat it as "no
// detection this frame".
var ErrUnavailable = errors.New("inference engine unavailable")

// maxFrameSize bounds a single framed message on the wire.
const maxFrameSize = 16 << 20

const (
	defaultReadyTimeout = 15 * time.Second
	defaultInferTimeout = 5 * time.Second
)

// EngineConfig configures the inference subprocess.
type EngineConfig struct {
	// Script is the worker launcher, e.g. detector/run_detector.sh.
	Script string
	// Model is the model file handed to the worker via --model.
	Model string
	// ReadyTimeout bounds the startup handshake. Zero means 15s.
	ReadyTimeout time.Duration
	// InferTimeout bounds one inference exchange. Zero means 5s.
	InferTimeout time.Duration
}

// Output is one inference pass decoded from the worker. Boxes is flat, four
// values per candidate in y0,x0,y1,x1 order, normalized to [0,1].
type Output struct {
	Boxes   []float32 `msgpack:"boxes"`
	Classes []float32 `msgpack:"classes"`
	Scores  []float32 `msgpack:"scores"`
	Count   int       `msgpack:"count"`
}

// EngineStats is a point-in-time snapshot for health reporting.
type EngineStats struct {
	Active          bool      `json:"active"`
	Inferences      uint64    `json:"inferences"`
	Failures        uint64    `json:"failures"`
	AvgLatencyMS    float64   `json:"avg_latency_ms"`
	LastInferenceAt time.Time `json:"last_inference_at"`
}

// Engine owns the detector subprocess. One Engine is shared by every camera;
// Infer serializes callers so the worker sees one request/response exchange
// at a time.
type Engine struct {
	cfg EngineConfig

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	// mu guards the stdin/stdout exchange protocol.
	mu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	isActive atomic.Bool

	seq            uint64
	inferenceCount uint64
	failureCount   uint64
	totalLatencyMS uint64
	lastSeenAt     atomic.Value // time.Time
}

// NewEngine validates the config and returns a stopped engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Script == "" {
		return nil, fmt.Errorf("detector script is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	if cfg.InferTimeout <= 0 {
		cfg.InferTimeout = defaultInferTimeout
	}
	return &Engine{cfg: cfg}, nil
}

// Start spawns the worker and waits for its ready handshake. An engine that
// cannot come up within ReadyTimeout returns an error wrapping
// ErrUnavailable.
func (e *Engine) Start(ctx context.Context) error {
	if e.isActive.Load() {
		return fmt.Errorf("engine already started")
	}

	e.ctx, e.cancel = context.WithCancel(ctx)

	var args []string
	if e.cfg.Model != "" {
		args = append(args, "--model", e.cfg.Model)
	}
	e.cmd = exec.CommandContext(e.ctx, e.cfg.Script, args...)

	stdin, err := e.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	e.stdin = stdin

	stdout, err := e.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	e.stdout = stdout

	stderr, err := e.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	e.stderr = stderr

	if err := e.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start detector process: %w", err)
	}

	slog.Info("detector process spawned",
		"script", e.cfg.Script,
		"model", e.cfg.Model,
		"pid", e.cmd.Process.Pid,
	)

	e.wg.Add(1)
	go e.logStderr()

	e.wg.Add(1)
	go e.waitProcess()

	if err := e.awaitReady(); err != nil {
		e.cancel()
		e.stdin.Close()
		return err
	}

	e.isActive.Store(true)
	e.lastSeenAt.Store(time.Now())

	slog.Info("detector engine ready", "model", e.cfg.Model)
	return nil
}

// awaitReady reads the worker's first framed message, which must report
// status "ready". The read runs in a goroutine so a hung worker cannot block
// startup past ReadyTimeout.
func (e *Engine) awaitReady() error {
	type readyMsg struct {
		Status string `msgpack:"status"`
		Model  string `msgpack:"model"`
		Error  string `msgpack:"error"`
	}

	done := make(chan error, 1)
	go func() {
		payload, err := readFrame(e.stdout)
		if err != nil {
			done <- fmt.Errorf("reading ready handshake: %w", err)
			return
		}
		var msg readyMsg
		if err := msgpack.Unmarshal(payload, &msg); err != nil {
			done <- fmt.Errorf("decoding ready handshake: %w", err)
			return
		}
		if msg.Status != "ready" {
			done <- fmt.Errorf("worker reported status %q: %s", msg.Status, msg.Error)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil
	case <-time.After(e.cfg.ReadyTimeout):
		return fmt.Errorf("%w: no ready handshake within %s", ErrUnavailable, e.cfg.ReadyTimeout)
	case <-e.ctx.Done():
		return fmt.Errorf("%w: %v", ErrUnavailable, e.ctx.Err())
	}
}

// Infer runs one detection pass over a packed input tensor. Callers from all
// cameras are serialized; each exchange is one framed request followed by one
// framed response. A timed-out or broken exchange marks the engine inactive,
// since an abandoned response would desynchronize the stream for the next
// caller.
func (e *Engine) Infer(tensor []byte) (*Output, error) {
	if !e.isActive.Load() {
		atomic.AddUint64(&e.failureCount, 1)
		return nil, ErrUnavailable
	}

	req := map[string]interface{}{
		"tensor": tensor,
		"seq":    atomic.AddUint64(&e.seq, 1),
	}
	reqBytes, err := msgpack.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal inference request: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()

	type exchange struct {
		payload []byte
		err     error
	}
	done := make(chan exchange, 1)
	go func() {
		if err := writeFrame(e.stdin, reqBytes); err != nil {
			done <- exchange{nil, fmt.Errorf("writing inference request: %w", err)}
			return
		}
		payload, err := readFrame(e.stdout)
		if err != nil {
			done <- exchange{nil, fmt.Errorf("reading inference response: %w", err)}
			return
		}
		done <- exchange{payload, nil}
	}()

	var payload []byte
	select {
	case ex := <-done:
		if ex.err != nil {
			e.isActive.Store(false)
			atomic.AddUint64(&e.failureCount, 1)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, ex.err)
		}
		payload = ex.payload
	case <-time.After(e.cfg.InferTimeout):
		e.isActive.Store(false)
		atomic.AddUint64(&e.failureCount, 1)
		return nil, fmt.Errorf("%w: inference timeout after %s", ErrUnavailable, e.cfg.InferTimeout)
	case <-e.ctx.Done():
		e.isActive.Store(false)
		atomic.AddUint64(&e.failureCount, 1)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, e.ctx.Err())
	}

	var out Output
	if err := msgpack.Unmarshal(payload, &out); err != nil {
		atomic.AddUint64(&e.failureCount, 1)
		return nil, fmt.Errorf("failed to unmarshal inference response: %w", err)
	}

	atomic.AddUint64(&e.inferenceCount, 1)
	atomic.AddUint64(&e.totalLatencyMS, uint64(time.Since(start).Milliseconds()))
	e.lastSeenAt.Store(time.Now())

	return &out, nil
}

// Stats returns current engine counters.
func (e *Engine) Stats() EngineStats {
	inferences := atomic.LoadUint64(&e.inferenceCount)
	totalMS := atomic.LoadUint64(&e.totalLatencyMS)

	var avg float64
	if inferences > 0 {
		avg = float64(totalMS) / float64(inferences)
	}

	var lastSeen time.Time
	if v := e.lastSeenAt.Load(); v != nil {
		lastSeen = v.(time.Time)
	}

	return EngineStats{
		Active:          e.isActive.Load(),
		Inferences:      inferences,
		Failures:        atomic.LoadUint64(&e.failureCount),
		AvgLatencyMS:    avg,
		LastInferenceAt: lastSeen,
	}
}

// Stop shuts the worker down, force-killing it if it does not exit within 2
// seconds. Safe to call on a never-started engine.
func (e *Engine) Stop() error {
	if e.cancel == nil {
		return nil
	}
	e.isActive.Store(false)

	e.cancel()
	if e.stdin != nil {
		e.stdin.Close()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("detector engine stopped",
			"inferences", atomic.LoadUint64(&e.inferenceCount),
		)
	case <-time.After(2 * time.Second):
		slog.Warn("detector stop timeout, force killing process")
		if e.cmd != nil && e.cmd.Process != nil {
			if err := e.cmd.Process.Kill(); err != nil {
				slog.Error("failed to kill detector process", "error", err)
			}
		}
	}

	return nil
}

// logStderr forwards worker stderr into slog, mapping the worker's log level
// markers onto ours.
func (e *Engine) logStderr() {
	defer e.wg.Done()

	scanner := bufio.NewScanner(e.stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]") || strings.Contains(line, "[CRITICAL]"):
			slog.Error("detector worker error", "log", line)
		case strings.Contains(line, "[WARNING]") || strings.Contains(line, "[WARN]"):
			slog.Warn("detector worker warning", "log", line)
		default:
			slog.Debug("detector worker log", "log", line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading detector stderr", "error", err)
	}
}

// waitProcess reaps the worker so it never lingers as a zombie.
func (e *Engine) waitProcess() {
	defer e.wg.Done()

	if e.cmd == nil || e.cmd.Process == nil {
		return
	}

	err := e.cmd.Wait()
	if err != nil {
		select {
		case <-e.ctx.Done():
			slog.Debug("detector process exited (shutdown)", "pid", e.cmd.Process.Pid)
		default:
			e.isActive.Store(false)
			slog.Error("detector process exited unexpectedly",
				"pid", e.cmd.Process.Pid,
				"error", err,
			)
		}
		return
	}
	slog.Info("detector process exited cleanly", "pid", e.cmd.Process.Pid)
}

// writeFrame writes one length-prefixed message: 4 bytes big-endian payload
// length, then the payload.
func writeFrame(w io.Writer, payload []byte) error {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("failed to write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("failed to write payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed message.
func readFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("frame length %d exceeds limit %d", n, maxFrameSize)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
