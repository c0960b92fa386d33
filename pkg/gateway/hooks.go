package gateway

import (
	"context"

	"github.com/supremeagent/claudegate/pkg/executor"
	"github.com/supremeagent/claudegate/pkg/executor/claude"
)

// Hooks allows callers to observe streams. OnEnd receives nil for a completed
// stream and the context error for a cancelled one.
type Hooks struct {
	OnStart       func(ctx context.Context, route Route, req executor.Request)
	OnDecodeError func(ctx context.Context, err *claude.DecodeError)
	OnEnd         func(ctx context.Context, route Route, err error)
}
