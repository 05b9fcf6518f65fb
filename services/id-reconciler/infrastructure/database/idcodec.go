package database

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectIDCodec recognises MongoDB ObjectIDs as internal ids
type ObjectIDCodec struct{}

// IsInternalID reports whether v is an ObjectID
func (ObjectIDCodec) IsInternalID(v interface{}) bool {
	switch v.(type) {
	case primitive.ObjectID, *primitive.ObjectID:
		return true
	}
	return false
}

// Hex returns the 24-character lowercase hex form of an ObjectID
func (ObjectIDCodec) Hex(v interface{}) (string, bool) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex(), true
	case *primitive.ObjectID:
		if id == nil {
			return "", false
		}
		return id.Hex(), true
	}
	return "", false
}

// ParseHex parses a 24-character hex string into an ObjectID
func (ObjectIDCodec) ParseHex(s string) (interface{}, bool) {
	id, err := primitive.ObjectIDFromHex(strings.ToLower(s))
	if err != nil {
		return nil, false
	}
	return id, true
}
