package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

func text(b []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(b), "\x00"))
}

// ParseFloat decodes a decimal speed multiplier such as "1.25".
func ParseFloat(b []byte) (float64, error) {
	v, err := strconv.ParseFloat(text(b), 64)
	if err != nil {
		return 0, fmt.Errorf("protocol: invalid number %q", text(b))
	}
	return v, nil
}

// ParseInt decodes a decimal integer.
func ParseInt(b []byte) (int, error) {
	v, err := strconv.Atoi(text(b))
	if err != nil {
		return 0, fmt.Errorf("protocol: invalid integer %q", text(b))
	}
	return v, nil
}

// ParseUint8 decodes a decimal integer in [0, 255].
func ParseUint8(b []byte) (uint8, error) {
	v, err := strconv.ParseUint(text(b), 10, 8)
	if err != nil {
		return 0, fmt.Errorf("protocol: invalid byte value %q", text(b))
	}
	return uint8(v), nil
}

// ParseBool accepts "0"/"1", "true"/"false", "on"/"off", or a single raw
// 0x00/0x01 byte as written by some BLE tools.
func ParseBool(b []byte) (bool, error) {
	if len(b) == 1 && b[0] <= 1 {
		return b[0] == 1, nil
	}
	switch strings.ToLower(text(b)) {
	case "1", "true", "on":
		return true, nil
	case "0", "false", "off":
		return false, nil
	}
	return false, fmt.Errorf("protocol: invalid boolean %q", text(b))
}

// ParseColor decodes "R,G,B" with each component in [0, 255].
func ParseColor(b []byte) (r, g, bl uint8, err error) {
	parts := strings.Split(text(b), ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("protocol: color must be R,G,B, got %q", text(b))
	}
	var rgb [3]uint8
	for i, p := range parts {
		v, err := strconv.ParseUint(strings.TrimSpace(p), 10, 8)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("protocol: invalid color component %q", p)
		}
		rgb[i] = uint8(v)
	}
	return rgb[0], rgb[1], rgb[2], nil
}

// FormatFloat encodes a speed multiplier with two decimals, as the app
// displays it.
func FormatFloat(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'f', 2, 64)
}

// FormatInt encodes a decimal integer.
func FormatInt(v int) []byte {
	return strconv.AppendInt(nil, int64(v), 10)
}

// FormatBool encodes "1" or "0".
func FormatBool(v bool) []byte {
	if v {
		return []byte("1")
	}
	return []byte("0")
}

// FormatColor encodes "R,G,B".
func FormatColor(r, g, b uint8) []byte {
	return []byte(fmt.Sprintf("%d,%d,%d", r, g, b))
}
