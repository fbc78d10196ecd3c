package bunx

import "github.com/google/uuid"

// NewUUIDv7 generates a time-ordered UUIDv7 string for primary keys and
// identity SIDs. Ids are generated in Go so the schema carries no
// dialect-specific defaults.
//
// Panics only when the system entropy source fails.
func NewUUIDv7() string {
	return uuid.Must(uuid.NewV7()).String()
}
