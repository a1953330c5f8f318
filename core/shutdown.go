package core

import (
	"context"
)

// ShutdownFunc releases one resource during graceful shutdown. It must
// respect ctx's deadline and be safe to call more than once.
type ShutdownFunc func(ctx context.Context) error
