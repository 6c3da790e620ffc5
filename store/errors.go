package store

import (
	"fmt"

	"github.com/sparkboardhq/sparkboard/kv"
)

// PartialBatchError reports a bounded batch operation that still had
// unprocessed items after its retry budget. The caller retries with exactly
// the unprocessed subset or escalates.
type PartialBatchError struct {
	Op          string
	Unprocessed []kv.Key
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("store: %s left %d items unprocessed after retries", e.Op, len(e.Unprocessed))
}
