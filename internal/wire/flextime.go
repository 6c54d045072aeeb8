package wire

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// FlexTime decodes a timestamp that the server may encode as an RFC 3339
// string, unix seconds, or unix milliseconds. The decoded value is always
// unix milliseconds.
type FlexTime int64

// Millis returns the timestamp in unix milliseconds, 0 if absent.
func (t FlexTime) Millis() int64 {
	return int64(t)
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		*t = 0
		return nil
	}

	if s[0] == '"' {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			// Some endpoints omit the timezone.
			parsed, err = time.Parse("2006-01-02T15:04:05", raw)
			if err != nil {
				return err
			}
		}
		*t = FlexTime(parsed.UnixMilli())
		return nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(f)
	}
	// Values below ~1e12 are unix seconds, not milliseconds.
	if n > 0 && n < 1_000_000_000_000 {
		n *= 1000
	}
	*t = FlexTime(n)
	return nil
}
