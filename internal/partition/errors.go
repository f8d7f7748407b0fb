package partition

import "errors"

// ErrNotFound is returned by Get when the requested partition id is
// neither resident nor (for the disk-backed store) spilled to disk.
var ErrNotFound = errors.New("partition: not found")
