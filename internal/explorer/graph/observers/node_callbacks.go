package observers

import (
	"context"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"

	logx "github.com/animal-explorer/server/pkg/logger"
)

type startKey struct{ node string }

// newNodeHandler logs the start, duration and failure of each pipeline node.
func newNodeHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			logx.Debug().Str("component", "pipeline").Str("node", info.Name).Msg("node started")
			return context.WithValue(ctx, startKey{info.Name}, time.Now())
		}).
		OnEndFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackOutput) context.Context {
			ev := logx.Debug().Str("component", "pipeline").Str("node", info.Name)
			if start, ok := ctx.Value(startKey{info.Name}).(time.Time); ok {
				ev = ev.Dur("elapsed", time.Since(start))
			}
			ev.Msg("node finished")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", "pipeline").Str("node", info.Name).Msg("node failed")
			return ctx
		}).
		Build()
}

// newGraphHandler logs whole pipeline runs.
func newGraphHandler() einocb.Handler {
	return einocb.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *einocb.RunInfo, _ einocb.CallbackInput) context.Context {
			logx.Debug().Str("component", "pipeline").Str("graph", info.Name).Msg("pipeline started")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().Err(err).Str("component", "pipeline").Str("graph", info.Name).Msg("pipeline aborted")
			return ctx
		}).
		Build()
}
