package handlers

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册路由
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	// API 路由
	api := r.Group("/api")
	{
		// 设备
		api.GET("/devices", h.ListDevices)
		api.GET("/devices/:id", h.GetDevice)
		api.POST("/devices/:id/refresh", h.RefreshDevice) // 立即刷新

		// 读数
		api.GET("/devices/:id/readings", h.ListReadings)
		api.GET("/devices/:id/users/:uid/readings", h.ListUserReadings)

		// 传感器定义
		api.GET("/sensors", h.ListSensors)
	}

	// WebSocket
	r.GET("/ws", h.HandleWebSocket)

	// 健康检查
	r.GET("/health", h.HealthCheck)
}
