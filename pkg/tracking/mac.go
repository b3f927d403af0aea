package tracking

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// MAC is a packed 6-byte hardware address.
type MAC [6]byte

// ParseMAC packs a MAC written with ':', '-', '.' or no separators.
func ParseMAC(s string) (MAC, error) {
	var m MAC
	clean := strings.NewReplacer(":", "", "-", "", ".", "", " ", "").Replace(strings.TrimSpace(s))
	if len(clean) != 12 {
		return m, fmt.Errorf("invalid MAC %q: want 12 hex digits", s)
	}
	if _, err := hex.Decode(m[:], []byte(clean)); err != nil {
		return m, fmt.Errorf("invalid MAC %q: %w", s, err)
	}
	return m, nil
}

// String renders the address as AA:BB:CC:DD:EE:FF.
func (m MAC) String() string {
	const digits = "0123456789ABCDEF"
	buf := make([]byte, 0, 17)
	for i, b := range m {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, digits[b>>4], digits[b&0x0f])
	}
	return string(buf)
}

// MarshalJSON encodes the address in its display form.
func (m MAC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts any form ParseMAC does.
func (m *MAC) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMAC(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
