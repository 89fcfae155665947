package linestate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dwizi/switchboard/internal/dasherr"
)

// NoPeer marks an unset incomingFrom/outgoingTo.
const NoPeer = -1

type Field string

const (
	FieldName  Field = "name"
	FieldPhone Field = "phone"
)

func (f Field) Valid() bool {
	return f == FieldName || f == FieldPhone
}

type Record struct {
	ID           int    `json:"id"`
	Status       string `json:"status"`
	Phone        string `json:"phone"`
	Name         string `json:"name"`
	IncomingFrom int    `json:"incomingFrom"`
	OutgoingTo   int    `json:"outgoingTo"`
}

func newRecord(id int) Record {
	return Record{ID: id, IncomingFrom: NoPeer, OutgoingTo: NoPeer}
}

func (r Record) Value(field Field) string {
	switch field {
	case FieldName:
		return r.Name
	case FieldPhone:
		return r.Phone
	default:
		return ""
	}
}

// Patch is a partial record. Nil fields are left untouched when merged.
type Patch struct {
	ID           int
	Status       *string
	Phone        *string
	Name         *string
	IncomingFrom *int
	OutgoingTo   *int
}

func (p Patch) apply(record Record) Record {
	if p.Status != nil {
		record.Status = *p.Status
	}
	if p.Phone != nil {
		record.Phone = *p.Phone
	}
	if p.Name != nil {
		record.Name = *p.Name
	}
	if p.IncomingFrom != nil {
		record.IncomingFrom = *p.IncomingFrom
	}
	if p.OutgoingTo != nil {
		record.OutgoingTo = *p.OutgoingTo
	}
	return record
}

func (p Patch) empty() bool {
	return p.Status == nil && p.Phone == nil && p.Name == nil && p.IncomingFrom == nil && p.OutgoingTo == nil
}

// DecodeRecord reads one snapshot entry. The entry must carry an integral
// "id", or "line" when "id" is absent; every other known field must have the
// right JSON type when present.
func DecodeRecord(raw []byte) (Patch, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return Patch{}, err
	}
	idRaw, ok := fields["id"]
	if !ok {
		idRaw, ok = fields["line"]
	}
	if !ok {
		return Patch{}, fmt.Errorf("%w: missing id", dasherr.ErrParse)
	}
	id, err := decodeInt(idRaw)
	if err != nil {
		return Patch{}, fmt.Errorf("%w: id: %v", dasherr.ErrParse, err)
	}
	patch, err := DecodeFields(fields)
	if err != nil {
		return Patch{}, err
	}
	patch.ID = id
	return patch, nil
}

// DecodeFields extracts the mergeable fields of an already split JSON object.
// Keys it does not know are ignored.
func DecodeFields(fields map[string]json.RawMessage) (Patch, error) {
	var patch Patch
	var err error
	if patch.Status, err = optionalString(fields, "status"); err != nil {
		return Patch{}, err
	}
	if patch.Phone, err = optionalString(fields, "phone"); err != nil {
		return Patch{}, err
	}
	if patch.Name, err = optionalString(fields, "name"); err != nil {
		return Patch{}, err
	}
	if patch.IncomingFrom, err = optionalInt(fields, "incomingFrom"); err != nil {
		return Patch{}, err
	}
	if patch.OutgoingTo, err = optionalInt(fields, "outgoingTo"); err != nil {
		return Patch{}, err
	}
	return patch, nil
}

func decodeObject(raw []byte) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", dasherr.ErrParse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: expected object", dasherr.ErrParse)
	}
	return fields, nil
}

// DecodeObject splits a JSON object into its raw members.
func DecodeObject(raw []byte) (map[string]json.RawMessage, error) {
	return decodeObject(raw)
}

func optionalString(fields map[string]json.RawMessage, key string) (*string, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	value, err := DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dasherr.ErrParse, key, err)
	}
	return &value, nil
}

func optionalInt(fields map[string]json.RawMessage, key string) (*int, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, nil
	}
	value, err := decodeInt(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dasherr.ErrParse, key, err)
	}
	return &value, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeString accepts only a JSON string.
func DecodeString(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", fmt.Errorf("expected string, got null")
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("expected string")
	}
	return value, nil
}

func decodeInt(raw json.RawMessage) (int, error) {
	value, err := DecodeInt64(raw)
	if err != nil {
		return 0, err
	}
	if value > math.MaxInt32 || value < math.MinInt32 {
		return 0, fmt.Errorf("integer out of range")
	}
	return int(value), nil
}

// DecodeInt64 accepts a JSON number with no fractional part. 3.0 is accepted
// as 3; 3.5, strings and null are rejected.
func DecodeInt64(raw json.RawMessage) (int64, error) {
	if isNull(raw) {
		return 0, fmt.Errorf("expected integer, got null")
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] == '"' {
		return 0, fmt.Errorf("expected integer")
	}
	var number json.Number
	if err := json.Unmarshal(trimmed, &number); err != nil {
		return 0, fmt.Errorf("expected integer")
	}
	if strings.ContainsAny(number.String(), ".eE") {
		parsed, err := number.Float64()
		if err != nil || parsed != math.Trunc(parsed) || math.Abs(parsed) > math.MaxInt64/2 {
			return 0, fmt.Errorf("expected integer, got %s", number.String())
		}
		return int64(parsed), nil
	}
	parsed, err := number.Int64()
	if err != nil {
		return 0, fmt.Errorf("expected integer, got %s", number.String())
	}
	return parsed, nil
}

func normalizeUnique(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
