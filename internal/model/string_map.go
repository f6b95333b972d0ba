package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringMap is a JSONB object column read as string values.
type StringMap map[string]string

func (m StringMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]string(m))
}

func (m *StringMap) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = StringMap{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("string map: unsupported source %T", src)
	}

	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return fmt.Errorf("string map: %w", err)
	}
	out := make(StringMap, len(generic))
	for k, v := range generic {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*m = out
	return nil
}
