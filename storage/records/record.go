package records

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord indicates that a stored value could not be decoded
	ErrMalformedRecord = errors.New("malformed record")
	// ErrIDRequired indicates that a record without an id was written
	ErrIDRequired = errors.New("record id required")
	// ErrPartitionRequired indicates that an empty partition name was used
	ErrPartitionRequired = errors.New("partition name required")
)

// Operations reported in StoreError.Op
const (
	OpOpen   = "open"
	OpGet    = "get"
	OpScan   = "scan"
	OpPut    = "put"
	OpDelete = "delete"
)

// Record is the unit of storage. Plain records carry
// Data. Session records carry the authentication flag and
// an optional profile instead.
type Record struct {
	ID            string          `json:"id"`
	Data          json.RawMessage `json:"data,omitempty"`
	Authenticated bool            `json:"authenticated,omitempty"`
	Email         string          `json:"email,omitempty"`
	Password      string          `json:"password,omitempty"`
}

// HasProfile returns true if the record carries both an
// email and a password
func (record Record) HasProfile() bool {
	return record.Email != "" && record.Password != ""
}

// DataOrNull returns the record's data or a JSON null if it has none
func (record Record) DataOrNull() json.RawMessage {
	if len(record.Data) == 0 {
		return json.RawMessage("null")
	}

	return record.Data
}

// StoreError describes a failure of the storage layer. Op is
// OpOpen when the partition could not be opened, OpGet or OpScan for
// read failures and OpPut or OpDelete for write failures.
type StoreError struct {
	Op        string
	Partition string
	Key       string
	Err       error
}

func (e *StoreError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s %s: %s", e.Op, e.Partition, e.Err)
	}

	return fmt.Sprintf("store %s %s/%s: %s", e.Op, e.Partition, e.Key, e.Err)
}

// Unwrap returns the underlying error
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Unavailable returns true if the partition could not be opened
func (e *StoreError) Unavailable() bool {
	return e.Op == OpOpen
}

// IsStoreError returns true if err is or wraps a *StoreError
func IsStoreError(err error) bool {
	var storeErr *StoreError

	return errors.As(err, &storeErr)
}

func encode(record Record) ([]byte, error) {
	return json.Marshal(record)
}

func decode(key []byte, raw []byte) (Record, error) {
	var record Record

	if err := json.Unmarshal(raw, &record); err != nil {
		return Record{}, fmt.Errorf("%w: %s", ErrMalformedRecord, err)
	}

	if record.ID == "" {
		record.ID = string(key)
	}

	return record, nil
}
