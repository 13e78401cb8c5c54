package element

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// IDLength is the number of hexadecimal digits in an element id.
const IDLength = 24

// NewID returns a fresh element id for a locally drawn element.
// The id is the first 12 bytes of a version 7 UUID, so ids created later
// sort after earlier ones just like server-assigned ids do.
func NewID() string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return hex.EncodeToString(u[:IDLength/2])
}

// ValidID reports whether id is 24 hexadecimal digits.
func ValidID(id string) bool {
	if len(id) != IDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
