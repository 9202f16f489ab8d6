package domain

import (
	"strconv"
	"strings"
)

// KeySeparator joins the components of a persisted field key.
const KeySeparator = ":"

// TrackedField identifies one watched date cell: a group, a sheet row, and a date column title.
type TrackedField struct {
	Group     string
	RowID     int64
	FieldName string
}

// NewTrackedField validates and constructs a tracked field identity.
func NewTrackedField(group string, rowID int64, fieldName string) (TrackedField, error) {
	if err := ValidateGroup(group); err != nil {
		return TrackedField{}, err
	}
	if rowID <= 0 {
		return TrackedField{}, ErrInvalidRowID
	}
	if strings.TrimSpace(fieldName) == "" {
		return TrackedField{}, ErrInvalidFieldName
	}
	return TrackedField{Group: group, RowID: rowID, FieldName: fieldName}, nil
}

// ValidateGroup reports whether a group name can be used in a persisted key.
func ValidateGroup(group string) error {
	if strings.TrimSpace(group) == "" || strings.Contains(group, KeySeparator) {
		return ErrInvalidGroup
	}
	return nil
}

// Key encodes the field as "{group}:{rowId}:{field}".
//
// Group never contains the separator and the row id is numeric, so everything after the
// second separator belongs to the field name and decoding stays unambiguous.
func (f TrackedField) Key() string {
	return f.Group + KeySeparator + strconv.FormatInt(f.RowID, 10) + KeySeparator + f.FieldName
}

// String returns the persisted key form.
func (f TrackedField) String() string {
	return f.Key()
}

// ParseFieldKey decodes a persisted key back into a tracked field.
func ParseFieldKey(key string) (TrackedField, error) {
	parts := strings.SplitN(key, KeySeparator, 3)
	if len(parts) != 3 {
		return TrackedField{}, ErrInvalidFieldKey
	}
	rowID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return TrackedField{}, ErrInvalidFieldKey
	}
	field, err := NewTrackedField(parts[0], rowID, parts[2])
	if err != nil {
		return TrackedField{}, ErrInvalidFieldKey
	}
	return field, nil
}
