package rpc

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/projectsentinel/sentineld/internal/domain"
	"github.com/projectsentinel/sentineld/internal/inference"
)

var errNoFrame = errors.New("no frame available")

// encodeFrameJPEG renders frame's 3-byte-per-pixel buffer to a base64 JPEG
// string for the process_*_frame RPCs' live camera mirror. This is a
// narrow, self-contained encoding step with no other moving parts, so
// it uses the standard library's image/jpeg rather than reaching for a
// third-party codec.
func encodeFrameJPEG(frame inference.Frame) (string, error) {
	if frame.Width <= 0 || frame.Height <= 0 {
		return "", errNoFrame
	}
	if len(frame.Pixels) < frame.Width*frame.Height*3 {
		return "", errNoFrame
	}

	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for y := 0; y < frame.Height; y++ {
		for x := 0; x < frame.Width; x++ {
			i := (y*frame.Width + x) * 3
			var r, g, b byte
			if frame.Order == domain.ColorBGR {
				b, g, r = frame.Pixels[i], frame.Pixels[i+1], frame.Pixels[i+2]
			} else {
				r, g, b = frame.Pixels[i], frame.Pixels[i+1], frame.Pixels[i+2]
			}
			img.Set(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
