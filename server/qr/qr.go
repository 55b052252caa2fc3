// Package qr renders QR codes as plain text.
package qr

import (
	"strings"

	"github.com/pkg/errors"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	dark  = "##"
	light = "  "
)

// Render encodes text as a QR code with low error correction and draws it
// with two characters per module, including the 4-module quiet zone. Every
// row ends with a newline and the drawing ends with an empty line.
func Render(text string) (string, error) {
	code, err := qrcode.New(text, qrcode.Low)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode QR code")
	}

	bitmap := code.Bitmap()
	var b strings.Builder
	b.Grow(len(bitmap)*(len(bitmap)*len(dark)+1) + 1)
	for _, row := range bitmap {
		for _, module := range row {
			if module {
				b.WriteString(dark)
			} else {
				b.WriteString(light)
			}
		}
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.String(), nil
}
