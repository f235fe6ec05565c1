// Package imaging turns an uploaded file into a decoded, displayable image.
package imaging

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// ErrUndecodable is returned when the uploaded bytes are not a supported image.
var ErrUndecodable = errors.New("imaging: undecodable image")

// SelectedImage is an uploaded image, decoded for inference and encoded as a
// data URL for display.
type SelectedImage struct {
	Image    image.Image
	Format   string
	MIMEType string
	Src      string
	Size     int
}

func (s *SelectedImage) Width() int  { return s.Image.Bounds().Dx() }
func (s *SelectedImage) Height() int { return s.Image.Bounds().Dy() }

// LoadSelectedImage reads r to the end and decodes it.
func LoadSelectedImage(r io.Reader) (*SelectedImage, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	return Decode(data)
}

// Decode decodes an in-memory image file.
func Decode(data []byte) (*SelectedImage, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrUndecodable)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: %s image has no pixels", ErrUndecodable, format)
	}

	mimeType := "image/" + format
	if sniffed := http.DetectContentType(data); strings.HasPrefix(sniffed, "image/") {
		mimeType = sniffed
	}

	return &SelectedImage{
		Image:    img,
		Format:   format,
		MIMEType: mimeType,
		Src:      DataURL(mimeType, data),
		Size:     len(data),
	}, nil
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
