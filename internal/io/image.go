package ioutils

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration

	"golang.org/x/image/draw"
)

// ImageService turns channel artwork into something a tag can carry.
//
// Feeds commonly publish 3000x3000 PNG covers. Embedded in every episode
// that is megabytes per file, and some players only understand JPEG, so
// covers are shrunk and always re-encoded.
//
//	svc := NewImageService()
//	cover, err := svc.PrepareCoverArt(ctx, imageData, 600)
type ImageService struct {
	// Quality is the JPEG quality used when encoding.
	Quality int
}

// NewImageService creates an ImageService with quality 90.
func NewImageService() *ImageService {
	return &ImageService{Quality: 90}
}

// PrepareCoverArt returns data as a JPEG that fits in maxSize x maxSize,
// keeping the aspect ratio. Images that already fit are only re-encoded.
// A maxSize of 0 disables resizing.
func (s *ImageService) PrepareCoverArt(ctx context.Context, data []byte, maxSize int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode cover: %w", err)
	}

	bounds := src.Bounds()
	w, h := fitWithin(bounds.Dx(), bounds.Dy(), maxSize)
	if w == bounds.Dx() && h == bounds.Dy() {
		return s.encode(src)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return s.encode(dst)
}

// fitWithin scales w x h down so that neither side exceeds limit.
func fitWithin(w, h, limit int) (int, int) {
	if limit <= 0 || (w <= limit && h <= limit) {
		return w, h
	}
	if w >= h {
		return limit, max(1, h*limit/w)
	}
	return max(1, w*limit/h), limit
}

func (s *ImageService) encode(img image.Image) ([]byte, error) {
	quality := s.Quality
	if quality <= 0 {
		quality = jpeg.DefaultQuality
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}
	return buf.Bytes(), nil
}
