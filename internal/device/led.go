package device

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// Color is a 24-bit RGB value.
type Color struct {
	R, G, B uint8
}

// ParseColor accepts "#rrggbb" or "rrggbb".
func ParseColor(s string) (Color, error) {
	raw := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(raw) != 6 {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return Color{}, fmt.Errorf("%w: %q", ErrInvalidColor, s)
	}
	return Color{R: b[0], G: b[1], B: b[2]}, nil
}

// Hex returns the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// LEDWriter is implemented by workers that drive addressable LEDs.
// SetLED must be safe to call concurrently with Read.
type LEDWriter interface {
	SetLED(ctx context.Context, index int, c Color) error
}
