package middleware

import (
	"context"
	"runtime/debug"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	errx "github.com/animal-explorer/server/internal/core/error"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// Recovery turns a handler panic into a 500 response.
func Recovery() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		defer func() {
			if r := recover(); r != nil {
				logx.Error().
					Str("request_id", GetRequestID(c)).
					Str("method", string(c.Method())).
					Str("path", string(c.Path())).
					Str("stack", string(debug.Stack())).
					Msgf("panic recovered: %v", r)

				c.JSON(consts.StatusInternalServerError, utils.H{
					"code":    errx.CodeInternal,
					"message": errx.SystemErrorMessage,
				})
				c.Abort()
			}
		}()

		c.Next(ctx)
	}
}
