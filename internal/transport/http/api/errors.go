package apihttp

import (
	"context"
	"errors"
	"net/http"

	"quantdesk/internal/backtest"
	"quantdesk/internal/logger"
	"quantdesk/internal/market"
	"quantdesk/internal/strategy"

	"github.com/gin-gonic/gin"
)

// statusFor 把领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case strategy.IsConfigError(err), errors.Is(err, backtest.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, backtest.ErrInsufficientData):
		// 区间太短不足以预热指标，属于请求问题
		return http.StatusBadRequest
	case errors.Is(err, market.ErrDataUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Warnf("[http] %s %s 失败: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func notFound(c *gin.Context, what string) {
	c.JSON(http.StatusNotFound, gin.H{"error": what + " 不存在"})
}

func storeDisabled(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "结果存储未启用"})
}
