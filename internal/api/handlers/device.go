package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/langchou/scalegazer/internal/api/tuya"
	"github.com/langchou/scalegazer/internal/scale"
	"github.com/langchou/scalegazer/internal/service"
)

// deviceUserParam 路由中代表设备级读数（账号登录方式）的用户占位
const deviceUserParam = "_"

// ListDevices 获取设备列表
func (h *Handler) ListDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": h.scaleService.Devices()})
}

// GetDevice 获取设备最新快照
func (h *Handler) GetDevice(c *gin.Context) {
	coord, ok := h.scaleService.Coordinator(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	snap := coord.Data()
	if snap == nil {
		resp := gin.H{"error": "No data yet"}
		if err := coord.LastError(); err != nil {
			resp["last_error"] = err.Error()
		}
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// RefreshDevice 立即刷新
// POST /api/devices/:id/refresh
// 与定时刷新共享执行；失败时保留上次数据
func (h *Handler) RefreshDevice(c *gin.Context) {
	deviceID := c.Param("id")

	snap, err := h.scaleService.RefreshNow(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
			return
		}
		h.logger.Error("Manual refresh failed", zap.String("device_id", deviceID), zap.Error(err))

		resp := gin.H{"error": err.Error()}
		var apiErr *tuya.Error
		if errors.As(err, &apiErr) {
			resp["kind"] = apiErr.Kind
			if apiErr.Code != 0 {
				resp["code"] = apiErr.Code
			}
		}
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": snap})
}

// ListReadings 获取设备全部读数
func (h *Handler) ListReadings(c *gin.Context) {
	coord, ok := h.scaleService.Coordinator(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	readings := coord.Readings()
	if readings == nil {
		readings = []scale.Reading{}
	}
	c.JSON(http.StatusOK, gin.H{"data": readings})
}

// ListUserReadings 获取单个用户的读数
func (h *Handler) ListUserReadings(c *gin.Context) {
	coord, ok := h.scaleService.Coordinator(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}

	userID := c.Param("uid")
	if userID == deviceUserParam {
		userID = tuya.DeviceUserKey
	}

	snap := coord.Data()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No data yet"})
		return
	}
	user, ok := snap.Users[userID]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": gin.H{
			"user_id":  user.UserID,
			"nickname": user.Nickname,
			"readings": user.Readings,
		},
	})
}

// ListSensors 获取传感器定义
func (h *Handler) ListSensors(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": scale.Sensors()})
}
