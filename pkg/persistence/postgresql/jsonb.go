package postgresql

import "encoding/json"

// jsonbValue marshals a value for a JSONB column, passing nil through so
// the column stays NULL.
func jsonbValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	return raw, nil
}

// jsonbScan unmarshals a JSONB column into out, treating NULL as absent.
func jsonbScan(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}

	return json.Unmarshal(raw, out)
}
