package common

import "github.com/google/uuid"

// New returns a random correlation id suitable for trace_id logging fields.
func New() string { return uuid.NewString() }
