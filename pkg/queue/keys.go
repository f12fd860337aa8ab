package queue

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Persisted key layout. Primary records live at job:{id}. Secondary index
// entries are keyed (status, inverted priority, creation time, id) so that an
// ascending lexicographic scan of one status prefix yields jobs in
// priority-descending, oldest-first order. Consumers must never touch these
// keys directly; the repository owns them.
const (
	jobKeyPrefix = "job:"
	idxKeyPrefix = "job_idx:"
)

func jobKey(id uuid.UUID) string {
	return jobKeyPrefix + id.String()
}

func idxStatusPrefix(status Status) string {
	return fmt.Sprintf("%s%s:", idxKeyPrefix, status)
}

// idxKey builds the secondary index key for a job. Priority is inverted into
// a fixed-width decimal because the store orders keys ascending while claims
// want the highest priority first.
func idxKey(j *Job) string {
	return fmt.Sprintf("%s%s:%05d:%019d:%s",
		idxKeyPrefix, j.Status, MaxPriority-j.Priority, j.CreatedAt.UnixNano(), j.ID)
}

// idxKeyJobID recovers the job ID from an index key.
func idxKeyJobID(key string) (uuid.UUID, error) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return uuid.Nil, fmt.Errorf("malformed index key %q", key)
	}
	return uuid.Parse(key[i+1:])
}
