package identity

import (
	"time"

	"github.com/akinsuyitaiwo/financial-management-system/cmd/identity/ids"
)

// NewULID returns a new ULID (26-char string).
func NewULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
