package credential

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/boombuler/barcode"
	"github.com/boombuler/barcode/code128"
	"github.com/boombuler/barcode/qr"

	"github.com/iliyamo/ticket-gate/internal/model"
)

// Renderer draws payloads as PNG images.
type Renderer struct {
	// Size is the edge of a QR image and the minimum width of a Code128
	// image, in pixels.
	Size int
}

// NewRenderer returns a Renderer producing images of the given size.
func NewRenderer(size int) Renderer {
	if size < 64 {
		size = 256
	}
	return Renderer{Size: size}
}

// Render encodes payload with the requested symbology.
func (r Renderer) Render(payload, encoding string) ([]byte, error) {
	var (
		bc  barcode.Barcode
		err error
	)
	switch encoding {
	case model.EncodingQR, "":
		bc, err = qr.Encode(payload, qr.M, qr.Auto)
		if err == nil {
			bc, err = barcode.Scale(bc, r.Size, r.Size)
		}
	case model.EncodingCode128:
		bc, err = code128.Encode(payload)
		if err == nil {
			width := bc.Bounds().Dx() * 2
			if width < r.Size {
				width = r.Size
			}
			bc, err = barcode.Scale(bc, width, r.Size/3+40)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported encoding %q", model.ErrInvalidInput, encoding)
	}
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", encoding, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, bc); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}
