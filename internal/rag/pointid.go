package rag

import "github.com/google/uuid"

// pointNamespace is the UUIDv5 namespace for deriving point IDs from entry
// keys. Changing it orphans every point already written.
var pointNamespace = uuid.MustParse("6f1c2a8e-3b5d-4e7f-9a10-2c4d6e8f0b13")

// PointID returns the deterministic UUID under which an entry with the given
// key is stored in backends that only accept UUID primary keys.
func PointID(key string) string {
	return uuid.NewSHA1(pointNamespace, []byte(key)).String()
}
