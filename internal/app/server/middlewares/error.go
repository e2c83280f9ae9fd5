package middlewares

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/pkg/logger"
)

// ErrorHandler 统一错误处理中间件
// 捕获 panic 与 handler 挂到 gin.Context 上的业务错误
func ErrorHandler(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf(c.Request.Context(), "[HTTP] Handler panic: path=%s panic=%v",
					c.Request.URL.Path, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"meta": gin.H{"code": http.StatusInternalServerError, "message": "internal server error"},
				})
			}
		}()

		c.Next()

		if len(c.Errors) > 0 && !c.Writer.Written() {
			err := c.Errors.Last()
			log.Errorf(c.Request.Context(), "[HTTP] Handler error: path=%s error=%v",
				c.Request.URL.Path, err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"meta": gin.H{"code": http.StatusInternalServerError, "message": err.Error()},
			})
		}
	}
}
