package core

import (
	"fmt"
	"strconv"
	"strings"
)

// ObjectID identifies a UAVObject type. IDs are generated from the object
// definition, so both ends of a link must agree on them.
type ObjectID uint32

// InstanceID selects one instance of a multi-instance UAVObject.
// Single-instance objects always use instance 0.
type InstanceID uint16

// String returns the ID as 8 lowercase hex digits.
func (o ObjectID) String() string {
	return fmt.Sprintf("%08x", uint32(o))
}

// Meta returns the ID of the metadata object paired with this object.
func (o ObjectID) Meta() ObjectID {
	return o + 1
}

// ParseObjectID parses a hex-encoded object ID, with or without a 0x prefix.
func ParseObjectID(s string) (ObjectID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0, fmt.Errorf("invalid object ID: empty string")
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid object ID: %w", err)
	}
	return ObjectID(v), nil
}

// ObjectKey identifies a single UAVObject instance on the link.
type ObjectKey struct {
	ObjectID   ObjectID
	InstanceID InstanceID
}

// String returns "objectid/instance", e.g. "12345678/0".
func (k ObjectKey) String() string {
	return k.ObjectID.String() + "/" + strconv.Itoa(int(k.InstanceID))
}
