package video

import (
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"os"

	"github.com/visiona/vigia/internal/types"
)

// jpegQuality is used for all snapshot photos.
const jpegQuality = 90

// EncodeJPEG writes one raw BGR frame to w as a JPEG image.
func EncodeJPEG(w io.Writer, frame types.Frame) error {
	need := frame.Width * frame.Height * 3
	if frame.Width <= 0 || frame.Height <= 0 || len(frame.Data) < need {
		return fmt.Errorf("invalid frame for snapshot: %dx%d with %d bytes",
			frame.Width, frame.Height, len(frame.Data))
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i, j := 0, 0; i < need; i, j = i+3, j+4 {
		img.Pix[j+0] = frame.Data[i+2]
		img.Pix[j+1] = frame.Data[i+1]
		img.Pix[j+2] = frame.Data[i+0]
		img.Pix[j+3] = 0xFF
	}
	return jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
}

// SaveJPEG writes one raw BGR frame to path as a JPEG photo.
func SaveJPEG(path string, frame types.Frame) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create snapshot %s: %w", path, err)
	}
	if err := EncodeJPEG(f, frame); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode snapshot %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot %s: %w", path, err)
	}
	return nil
}
