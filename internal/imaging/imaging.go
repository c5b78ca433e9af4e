// Package imaging normalizes stock item photos: the upload is sniffed,
// decoded, fitted into a bounding box and stored as JPEG.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxDimension bounds the width and height of stored photos.
const MaxDimension = 800

// MaxUploadBytes caps the size of an accepted upload.
const MaxUploadBytes = 8 << 20

// JPEGQuality is used for every stored photo.
const JPEGQuality = 85

// ErrTooLarge is returned for uploads over MaxUploadBytes.
var ErrTooLarge = errors.New("image too large")

// acceptedTypes are the sniffed content types Normalize decodes.
var acceptedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// Photo is a normalized stock item photo.
type Photo struct {
	Data   []byte
	MIME   string
	Width  int
	Height int
}

// Normalize reads an uploaded photo, checks its real content type and
// re-encodes it as a JPEG no larger than MaxDimension on either side.
// Transparent areas are flattened onto white.
func Normalize(r io.Reader) (*Photo, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading image: %w", err)
	}
	if len(data) > MaxUploadBytes {
		return nil, ErrTooLarge
	}

	// Client supplied content types are not trusted.
	detected := http.DetectContentType(data)
	if !acceptedTypes[detected] {
		return nil, fmt.Errorf("unsupported image format %s (JPEG, PNG or WebP accepted)", detected)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", detected, err)
	}

	img := fit(src, MaxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding JPEG: %w", err)
	}

	b := img.Bounds()
	return &Photo{
		Data:   buf.Bytes(),
		MIME:   "image/jpeg",
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

// fit scales img down to fit in a maxDim square, keeping the aspect ratio,
// and draws it over a white background. Small images keep their size.
func fit(img image.Image, maxDim int) image.Image {
	src := img.Bounds()
	w, h := src.Dx(), src.Dy()

	if w > maxDim || h > maxDim {
		if w >= h {
			h = max(1, h*maxDim/w)
			w = maxDim
		} else {
			w = max(1, w*maxDim/h)
			h = maxDim
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Over, nil)
	return dst
}
