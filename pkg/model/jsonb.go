package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// Clone returns a deep copy through a JSON round trip.
func (j JSONB) Clone() JSONB {
	if j == nil {
		return nil
	}
	data, err := json.Marshal(j)
	if err != nil {
		return JSONB{}
	}
	var out JSONB
	if err := json.Unmarshal(data, &out); err != nil {
		return JSONB{}
	}
	return out
}
