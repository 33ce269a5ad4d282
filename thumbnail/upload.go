package thumbnail

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"mime"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// NormalizeContentType lowercases a content type and drops its parameters.
func NormalizeContentType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt = strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	}
	mt = strings.ToLower(mt)
	if mt == "image/jpg" || mt == "image/pjpeg" {
		mt = "image/jpeg"
	}
	return mt
}

// Validate checks the declared type and size without decoding anything.
func (g *Generator) Validate(size int64, contentType string) error {
	mt := NormalizeContentType(contentType)
	if !allowedTypes[mt] {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}
	if size > g.opts.MaxBytes {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, size, g.opts.MaxBytes)
	}
	return nil
}

// FromUpload validates a user-supplied image, flattens transparency onto
// white and stores it as the item's thumbnail.
func (g *Generator) FromUpload(mediaID string, data []byte, contentType string) (string, error) {
	if err := g.Validate(int64(len(data)), contentType); err != nil {
		return "", err
	}

	sniffed := NormalizeContentType(mimetype.Detect(data).String())
	if !allowedTypes[sniffed] {
		return "", fmt.Errorf("%w: content is %s", ErrUnsupportedType, sniffed)
	}

	img, err := decode(data, sniffed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return g.save(flatten(img), g.itemName(mediaID))
}

func decode(data []byte, mimeType string) (image.Image, error) {
	reader := bytes.NewReader(data)
	if mimeType == "image/webp" {
		return webp.Decode(reader)
	}
	return imaging.Decode(reader, imaging.AutoOrientation(true))
}

// flatten composites img onto an opaque white canvas.
func flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
