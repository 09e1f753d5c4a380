package replica

import (
	"github.com/google/uuid"

	"github.com/cvvkv/cvvkv/internal/version"
)

// NewReplicaID generates a fresh, globally unique replica identifier,
// generalizing the teacher's internal/storage/uuid_helpers.go use of
// google/uuid for identifier generation.
func NewReplicaID() version.ReplicaID {
	return version.ReplicaID(uuid.NewString())
}
