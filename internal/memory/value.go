package memory

import (
	"encoding/json"
	"fmt"
)

// NormalizeValue coerces an extracted value into its stored text form.
// Strings pass through, everything else is JSON-encoded, and values JSON
// cannot represent fall back to fmt formatting. It never fails.
func NormalizeValue(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err == nil {
			return NormalizeValue(decoded)
		}
		return string(v)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Sprint(raw)
	}
	return string(b)
}
