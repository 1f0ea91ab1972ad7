package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/visiona/vigia/internal/archive"
	"github.com/visiona/vigia/internal/emitter"
	"github.com/visiona/vigia/internal/store"
	"github.com/visiona/vigia/internal/types"
)

// sinkCapacity sizes the fan-out backlog. Capture events arrive a few
// per minute at most, so the queue only fills when a backend stalls for
// a long time.
const sinkCapacity = 64

// uploadTimeout bounds a single archive upload batch.
const uploadTimeout = 2 * time.Minute

type sinkKind int

const (
	sinkStarted sinkKind = iota
	sinkFinished
	sinkRotated
)

type sinkEvent struct {
	kind     sinkKind
	event    types.PersonEvent
	rotation types.TimelapseRotation
}

// EventSink fans capture events out to the optional backends: the MQTT
// emitter, the SQLite store, and the object archive. Any backend may be
// nil. A single worker serializes deliveries so camera loops never wait
// on broker or storage latency; backend errors are logged, never
// propagated back into capture.
type EventSink struct {
	metrics *Metrics
	emitter *emitter.MQTTEmitter
	store   *store.Store
	archive *archive.Uploader

	ch      chan sinkEvent
	stop    chan struct{}
	done    chan struct{}
	closing sync.Once
}

// NewEventSink starts the sink worker. metrics must not be nil; the
// backends may be.
func NewEventSink(metrics *Metrics, em *emitter.MQTTEmitter, st *store.Store, ar *archive.Uploader) *EventSink {
	s := &EventSink{
		metrics: metrics,
		emitter: em,
		store:   st,
		archive: ar,
		ch:      make(chan sinkEvent, sinkCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.worker()
	return s
}

// SessionStarted queues a session-start event.
func (s *EventSink) SessionStarted(ev types.PersonEvent) {
	s.enqueue(sinkEvent{kind: sinkStarted, event: ev})
}

// SessionFinished queues a session-end event.
func (s *EventSink) SessionFinished(ev types.PersonEvent) {
	s.enqueue(sinkEvent{kind: sinkFinished, event: ev})
}

// TimelapseRotated queues a timelapse rotation event.
func (s *EventSink) TimelapseRotated(rot types.TimelapseRotation) {
	s.enqueue(sinkEvent{kind: sinkRotated, rotation: rot})
}

// Close drains queued events and stops the worker. Events enqueued
// after Close are dropped.
func (s *EventSink) Close() {
	s.closing.Do(func() { close(s.stop) })
	<-s.done
}

func (s *EventSink) enqueue(ev sinkEvent) {
	select {
	case s.ch <- ev:
	case <-s.stop:
		slog.Warn("event sink closed, dropping event", "camera", s.camera(ev))
	default:
		slog.Warn("event sink backlog full, dropping event", "camera", s.camera(ev))
	}
}

func (s *EventSink) camera(ev sinkEvent) string {
	if ev.kind == sinkRotated {
		return ev.rotation.Camera
	}
	return ev.event.Camera
}

func (s *EventSink) worker() {
	defer close(s.done)
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-s.stop:
			for {
				select {
				case ev := <-s.ch:
					s.dispatch(ev)
				default:
					return
				}
			}
		}
	}
}

func (s *EventSink) dispatch(ev sinkEvent) {
	switch ev.kind {
	case sinkStarted:
		s.metrics.SessionsStarted.WithLabelValues(ev.event.Camera).Inc()
		if s.store != nil {
			if err := s.store.SessionStarted(ev.event); err != nil {
				slog.Error("failed to record session start",
					"camera", ev.event.Camera, "session_id", ev.event.ID, "error", err)
			}
		}
		if s.emitter != nil {
			if err := s.emitter.PersonEventStarted(ev.event); err != nil {
				slog.Error("failed to publish session start",
					"camera", ev.event.Camera, "session_id", ev.event.ID, "error", err)
			}
		}

	case sinkFinished:
		s.metrics.SessionsFinished.WithLabelValues(ev.event.Camera).Inc()
		if s.store != nil {
			if err := s.store.SessionFinished(ev.event); err != nil {
				slog.Error("failed to record session end",
					"camera", ev.event.Camera, "session_id", ev.event.ID, "error", err)
			}
		}
		if s.emitter != nil {
			if err := s.emitter.PersonEventFinished(ev.event); err != nil {
				slog.Error("failed to publish session end",
					"camera", ev.event.Camera, "session_id", ev.event.ID, "error", err)
			}
		}
		if s.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
			if err := s.archive.SessionFinished(ctx, ev.event); err != nil {
				slog.Error("failed to archive session artifacts",
					"camera", ev.event.Camera, "session_id", ev.event.ID, "error", err)
			}
			cancel()
		}

	case sinkRotated:
		s.metrics.Rotations.WithLabelValues(ev.rotation.Camera).Inc()
		if s.store != nil {
			if err := s.store.TimelapseRotated(ev.rotation); err != nil {
				slog.Error("failed to record timelapse rotation",
					"camera", ev.rotation.Camera, "path", ev.rotation.Path, "error", err)
			}
		}
		if s.emitter != nil {
			if err := s.emitter.TimelapseRotated(ev.rotation); err != nil {
				slog.Error("failed to publish timelapse rotation",
					"camera", ev.rotation.Camera, "path", ev.rotation.Path, "error", err)
			}
		}
		if s.archive != nil {
			ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
			if err := s.archive.TimelapseRotated(ctx, ev.rotation); err != nil {
				slog.Error("failed to archive timelapse file",
					"camera", ev.rotation.Camera, "path", ev.rotation.Path, "error", err)
			}
			cancel()
		}
	}
}
