package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"sdp/ordercore/internal/app/pkg/logger"
)

// Logger 访问日志中间件
// 为每个请求注入 trace_id，响应完成后记录一条访问日志
func Logger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader("X-Trace-Id")
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(c.Request.Context(), "trace_id", traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Trace-Id", traceID)

		start := time.Now()
		c.Next()

		log.Infof(ctx, "[HTTP] %s %s status=%d cost=%s",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
