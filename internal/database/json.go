package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// jsonColumn stores a value as JSON text.
type jsonColumn[T any] struct {
	Data T
}

func (c *jsonColumn[T]) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		var zero T
		c.Data = zero
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonColumn.Scan: expected text, got %T", src)
	}
	return json.Unmarshal(b, &c.Data)
}

func (c jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(c.Data)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
