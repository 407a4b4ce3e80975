package qr

import (
	"fmt"
	"strings"

	"github.com/abdusco/linkpage/internal"
	"github.com/skip2/go-qrcode"
)

type Renderer interface {
	Render(content string, format internal.QRFormat, size int) ([]byte, error)
}

// CodeRenderer encodes with go-qrcode at a fixed recovery level.
type CodeRenderer struct {
	Level qrcode.RecoveryLevel
}

func NewRenderer() CodeRenderer {
	return CodeRenderer{Level: qrcode.Medium}
}

func (r CodeRenderer) Render(content string, format internal.QRFormat, size int) ([]byte, error) {
	code, err := qrcode.New(content, r.Level)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	switch format {
	case internal.QRFormatPNG:
		return code.PNG(size)
	case internal.QRFormatSVG:
		return svg(code.Bitmap(), size), nil
	}
	return nil, fmt.Errorf("%w: %q", internal.ErrInvalidFormat, format)
}

// svg draws one unit square per dark module and lets the viewBox scale it
// to size pixels.
func svg(bitmap [][]bool, size int) []byte {
	n := len(bitmap)

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" shape-rendering="crispEdges">`, size, size, n, n)
	b.WriteString(`<rect width="100%" height="100%" fill="#ffffff"/><path fill="#000000" d="`)
	for y, row := range bitmap {
		for x, dark := range row {
			if dark {
				fmt.Fprintf(&b, "M%d %dh1v1h-1z", x, y)
			}
		}
	}
	b.WriteString(`"/></svg>`)
	return []byte(b.String())
}
