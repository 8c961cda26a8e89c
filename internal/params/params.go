// Package params provides the typed key/value bag that carries an upload
// request's configuration between the service, the queue and the processor.
package params

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"
)

// Well-known keys.
const (
	KeyRequestID     = "requestId"
	KeyOptions       = "options"
	KeyPayload       = "uri"
	KeyMaxRetries    = "max_retries"
	KeyRetryCount    = "retry_count"
	KeyNetworkPolicy = "network_policy"
	KeyBackoffMillis = "backoff_millis"
	KeyBackoffPolicy = "backoff_policy"
	KeyUnsigned      = "unsigned"
	KeyCorrelationID = "correlation_id"
)

// Params is a typed key/value store. Getters return the supplied default when
// the key is absent or holds a value of another type.
type Params interface {
	PutString(key, value string)
	PutInt(key string, value int)
	PutLong(key string, value int64)
	GetString(key, defaultValue string) string
	GetInt(key string, defaultValue int) int
	GetLong(key string, defaultValue int64) int64
}

type valueType string

const (
	typeString valueType = "string"
	typeInt    valueType = "int"
	typeLong   valueType = "long"
)

type entry struct {
	Type valueType `json:"t"`
	Str  string    `json:"s,omitempty"`
	Num  int64     `json:"n,omitempty"`
}

// Bag is a map-backed Params that is safe for concurrent use and survives a
// JSON round trip with every value's type intact.
type Bag struct {
	mu     sync.RWMutex
	values map[string]entry
}

// New creates an empty Bag.
func New() *Bag {
	return &Bag{values: make(map[string]entry)}
}

func (b *Bag) put(key string, e entry) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.values == nil {
		b.values = make(map[string]entry)
	}
	b.values[key] = e
}

func (b *Bag) get(key string) (entry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.values[key]
	return e, ok
}

func (b *Bag) PutString(key, value string) {
	b.put(key, entry{Type: typeString, Str: value})
}

func (b *Bag) PutInt(key string, value int) {
	b.put(key, entry{Type: typeInt, Num: int64(value)})
}

func (b *Bag) PutLong(key string, value int64) {
	b.put(key, entry{Type: typeLong, Num: value})
}

func (b *Bag) GetString(key, defaultValue string) string {
	if e, ok := b.get(key); ok && e.Type == typeString {
		return e.Str
	}
	return defaultValue
}

func (b *Bag) GetInt(key string, defaultValue int) int {
	if e, ok := b.get(key); ok && e.Type == typeInt {
		return int(e.Num)
	}
	return defaultValue
}

func (b *Bag) GetLong(key string, defaultValue int64) int64 {
	if e, ok := b.get(key); ok && e.Type == typeLong {
		return e.Num
	}
	return defaultValue
}

// Has reports whether key holds a value of any type.
func (b *Bag) Has(key string) bool {
	_, ok := b.get(key)
	return ok
}

func (b *Bag) MarshalJSON() ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.values == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.values)
}

func (b *Bag) UnmarshalJSON(data []byte) error {
	var values map[string]entry
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decoding params: %w", err)
	}
	for key, e := range values {
		switch e.Type {
		case typeString, typeInt, typeLong:
		default:
			return fmt.Errorf("decoding params: key %q has unknown type %q", key, e.Type)
		}
	}
	if values == nil {
		values = make(map[string]entry)
	}
	b.mu.Lock()
	b.values = values
	b.mu.Unlock()
	return nil
}

// Scan implements sql.Scanner so a Bag can be read from a JSONB column.
func (b *Bag) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return b.UnmarshalJSON(v)
	case string:
		return b.UnmarshalJSON([]byte(v))
	case nil:
		b.mu.Lock()
		b.values = make(map[string]entry)
		b.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("params: cannot scan %T", src)
	}
}

// Value implements driver.Valuer.
func (b *Bag) Value() (driver.Value, error) {
	data, err := b.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return data, nil
}
