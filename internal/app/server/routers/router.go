package routers

import (
	"github.com/gin-gonic/gin"

	"sdp/ordercore/internal/app/server/handlers/exception"
	"sdp/ordercore/internal/app/server/handlers/order"
	"sdp/ordercore/internal/app/server/handlers/workflow"
	"sdp/ordercore/internal/app/server/middlewares"
	"sdp/ordercore/internal/app/pkg/logger"
)

// SetupRoutes 配置所有路由，使用 Route Group 分类
func SetupRoutes(
	orderHandler *order.OrderHandler,
	workflowHandler *workflow.WorkflowHandler,
	reviewHandler *workflow.ReviewHandler,
	exceptionHandler *exception.ExceptionHandler,
	log logger.Logger,
) *gin.Engine {
	r := gin.New()

	r.Use(middlewares.CORS())
	r.Use(middlewares.Logger(log))
	r.Use(middlewares.ErrorHandler(log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "ordercore",
			"message": "Service is running",
		})
	})

	v1 := r.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("", orderHandler.Create)
			orders.GET("", orderHandler.List)
			orders.GET("/:id", orderHandler.Get)
		}

		workflows := v1.Group("/workflows")
		{
			workflows.GET("/templates", workflowHandler.ListTemplates)
			workflows.POST("", workflowHandler.Start)
			workflows.GET("/:id", workflowHandler.Get)
			workflows.POST("/:id/cancel", workflowHandler.Cancel)
		}

		reviews := v1.Group("/reviews")
		{
			reviews.POST("/decide", reviewHandler.Decide)
		}

		exceptions := v1.Group("/exceptions")
		{
			exceptions.POST("/analyze", exceptionHandler.Analyze)
			exceptions.POST("/batch-analyze", exceptionHandler.BatchAnalyze)
			exceptions.GET("/records", exceptionHandler.ListRecords)
			exceptions.GET("/rules", exceptionHandler.ListRules)
			exceptions.PUT("/rules/:id/toggle", exceptionHandler.ToggleRule)
		}
	}

	return r
}
