package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/visiona/vigia/internal/types"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestSessionRoundTrip persists a session start, completes it, and reads
// the summary back.
func TestSessionRoundTrip(t *testing.T) {
	s := openStore(t)
	started := time.Date(2025, 6, 1, 12, 30, 2, 0, time.UTC)

	ev := types.PersonEvent{
		ID:             "f0f0",
		Camera:         "porch",
		StartedAt:      started,
		VideoPath:      "captures/people/video/porch20250601-123002.mp4",
		FirstPhotoPath: "captures/people/photos/porch20250601-123002-first.jpg",
	}
	if err := s.SessionStarted(ev); err != nil {
		t.Fatalf("SessionStarted: %v", err)
	}

	events, err := s.ListEvents("", nil, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if !events[0].EndedAt.IsZero() {
		t.Errorf("EndedAt = %v before finish", events[0].EndedAt)
	}

	ev.EndedAt = started.Add(45 * time.Second)
	ev.BestPhotoPath = "captures/people/photos/porch20250601-123030-best.jpg"
	ev.PeakArea = 4200
	ev.FramesWritten = 120
	if err := s.SessionFinished(ev); err != nil {
		t.Fatalf("SessionFinished: %v", err)
	}

	events, err = s.ListEvents("porch", nil, 1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	got := events[0]
	if got.ID != ev.ID || got.Camera != ev.Camera {
		t.Errorf("identity = %q/%q, want %q/%q", got.ID, got.Camera, ev.ID, ev.Camera)
	}
	if !got.StartedAt.Equal(ev.StartedAt) || !got.EndedAt.Equal(ev.EndedAt) {
		t.Errorf("times = %v..%v, want %v..%v", got.StartedAt, got.EndedAt, ev.StartedAt, ev.EndedAt)
	}
	if got.VideoPath != ev.VideoPath || got.FirstPhotoPath != ev.FirstPhotoPath || got.BestPhotoPath != ev.BestPhotoPath {
		t.Errorf("paths = %+v", got)
	}
	if got.PeakArea != 4200 || got.FramesWritten != 120 {
		t.Errorf("summary = area %d frames %d", got.PeakArea, got.FramesWritten)
	}
}

// TestSessionFinishedWithoutStart inserts the whole row when no start was
// recorded.
func TestSessionFinishedWithoutStart(t *testing.T) {
	s := openStore(t)
	started := time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC)

	ev := types.PersonEvent{
		ID:            "aaaa",
		Camera:        "yard",
		StartedAt:     started,
		EndedAt:       started.Add(time.Minute),
		VideoPath:     "captures/people/video/yard20250601-130000.mp4",
		PeakArea:      99,
		FramesWritten: 10,
	}
	if err := s.SessionFinished(ev); err != nil {
		t.Fatalf("SessionFinished: %v", err)
	}

	events, err := s.ListEvents("yard", nil, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 1 || events[0].PeakArea != 99 {
		t.Fatalf("events = %+v, want one yard event", events)
	}
}

// TestListEventsFilters applies camera, since and limit filters with
// newest-first ordering.
func TestListEventsFilters(t *testing.T) {
	s := openStore(t)
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	for i, camera := range []string{"porch", "yard", "porch"} {
		ev := types.PersonEvent{
			ID:        string(rune('a' + i)),
			Camera:    camera,
			StartedAt: base.Add(time.Duration(i) * time.Hour),
			VideoPath: "v.mp4",
		}
		if err := s.SessionStarted(ev); err != nil {
			t.Fatalf("SessionStarted %d: %v", i, err)
		}
	}

	porch, err := s.ListEvents("porch", nil, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(porch) != 2 || porch[0].ID != "c" || porch[1].ID != "a" {
		t.Errorf("porch events = %+v, want c then a", porch)
	}

	since := base.Add(30 * time.Minute)
	recent, err := s.ListEvents("", &since, 0)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("recent events = %d, want 2", len(recent))
	}

	limited, err := s.ListEvents("", nil, 1)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "c" {
		t.Errorf("limited = %+v, want just c", limited)
	}
}

// TestRotationRoundTrip persists rotations and ignores a duplicate path.
func TestRotationRoundTrip(t *testing.T) {
	s := openStore(t)
	at := time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC)

	first := types.TimelapseRotation{
		Camera:    "porch",
		Path:      "captures/timelapse/porch20250601-100001.mp4",
		RotatedAt: at,
	}
	if err := s.TimelapseRotated(first); err != nil {
		t.Fatalf("TimelapseRotated: %v", err)
	}
	if err := s.TimelapseRotated(first); err != nil {
		t.Fatalf("duplicate TimelapseRotated: %v", err)
	}
	second := types.TimelapseRotation{
		Camera:    "porch",
		Path:      "captures/timelapse/porch20250601-110001.mp4",
		RotatedAt: at.Add(time.Hour),
	}
	if err := s.TimelapseRotated(second); err != nil {
		t.Fatalf("TimelapseRotated: %v", err)
	}

	rotations, err := s.ListRotations(0)
	if err != nil {
		t.Fatalf("ListRotations: %v", err)
	}
	if len(rotations) != 2 {
		t.Fatalf("rotations = %d, want 2", len(rotations))
	}
	if rotations[0].Path != second.Path || !rotations[0].RotatedAt.Equal(second.RotatedAt) {
		t.Errorf("newest = %+v, want %+v", rotations[0], second)
	}
}
