package types

import "time"

// filenameTimestamp is the local-time stamp embedded in every capture
// artifact name.
const filenameTimestamp = "20060102-150405"

// ArtifactBase returns the {camera}{YYYYMMDD-HHMMSS} stem shared by video,
// photo and timelapse filenames. The stamp uses ts's own location; capture
// timestamps are local time.
func ArtifactBase(camera string, ts time.Time) string {
	return camera + ts.Format(filenameTimestamp)
}

// PersonEvent describes one recording session from activation to the
// inactivity deactivation. EndedAt, BestPhotoPath and PeakArea are zero
// until the session finishes.
type PersonEvent struct {
	ID             string    `json:"id"`
	Camera         string    `json:"camera"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at,omitempty"`
	VideoPath      string    `json:"video_path"`
	FirstPhotoPath string    `json:"first_photo_path"`
	BestPhotoPath  string    `json:"best_photo_path,omitempty"`
	PeakArea       int       `json:"peak_area,omitempty"`
	FramesWritten  uint64    `json:"frames_written,omitempty"`
}

// TimelapseRotation describes one completed hourly timelapse file.
type TimelapseRotation struct {
	Camera    string    `json:"camera"`
	Path      string    `json:"path"`
	RotatedAt time.Time `json:"rotated_at"`
}
