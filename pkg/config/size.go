package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// ByteSize is a uint64 value that supports unmarshalling from both
// human-friendly string representations ("250GB", "3.7TB") and a trailing
// percentage ("50%"), in addition to plain numeric representations. A
// percentage is resolved relative to a total supplied by the caller via
// ResolveAgainst, since the byte value of "50%" depends on the cache drive's
// total capacity, which isn't known at unmarshal time.
type ByteSize uint64

// percentBit marks a ByteSize as holding a percentage rather than an
// absolute count; the percentage itself (times 100) is stored in the low
// bits, with this top bit set to keep it clear of any realistic byte count.
const percentBit = uint64(1) << 63

// UnmarshalText implements the text unmarshalling interface used when
// loading from YAML configuration files.
func (s *ByteSize) UnmarshalText(textBytes []byte) error {
	text := strings.TrimSpace(string(textBytes))

	if text == "" || text == "0" {
		*s = 0
		return nil
	}

	if strings.HasSuffix(text, "%") {
		percentText := strings.TrimSpace(strings.TrimSuffix(text, "%"))
		percent, err := strconv.ParseFloat(percentText, 64)
		if err != nil {
			return fmt.Errorf("invalid percentage %q: %w", text, err)
		}
		if percent < 0 || percent > 100 {
			return fmt.Errorf("percentage %q out of range [0, 100]", text)
		}
		*s = ByteSize(percentBit | uint64(percent*100))
		return nil
	}

	value, err := humanize.ParseBytes(text)
	if err != nil {
		return err
	}
	*s = ByteSize(value)
	return nil
}

// IsPercent reports whether the value was specified as a percentage rather
// than an absolute byte count.
func (s ByteSize) IsPercent() bool {
	return uint64(s)&percentBit != 0
}

// Percent returns the percentage value (0-100, with two decimal digits of
// precision) if IsPercent is true. It returns 0 otherwise.
func (s ByteSize) Percent() float64 {
	if !s.IsPercent() {
		return 0
	}
	return float64(uint64(s)&^percentBit) / 100
}

// ResolveAgainst returns the absolute byte count represented by s. If s is a
// percentage, it is computed relative to total; otherwise s is returned
// as-is (already an absolute count).
func (s ByteSize) ResolveAgainst(total uint64) uint64 {
	if s.IsPercent() {
		return uint64(float64(total) * s.Percent() / 100)
	}
	return uint64(s)
}

// String renders the value for logging/diagnostics.
func (s ByteSize) String() string {
	if s.IsPercent() {
		return fmt.Sprintf("%.2f%%", s.Percent())
	}
	return humanize.Bytes(uint64(s))
}
