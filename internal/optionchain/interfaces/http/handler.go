package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quantfold/optionvault/internal/optionchain/application"
)

// ChainHandler 期权链 HTTP 接口
type ChainHandler struct {
	ingest    *application.IngestService
	query     *application.ChainQueryService
	lifecycle *application.LifecycleService
}

// NewChainHandler 创建处理器
func NewChainHandler(
	ingest *application.IngestService,
	query *application.ChainQueryService,
	lifecycle *application.LifecycleService,
) *ChainHandler {
	return &ChainHandler{ingest: ingest, query: query, lifecycle: lifecycle}
}

// RegisterRoutes 注册路由
func (h *ChainHandler) RegisterRoutes(r *gin.RouterGroup) {
	v1 := r.Group("/v1")
	{
		v1.POST("/chains/:symbol/ingest", h.Ingest)
		v1.GET("/chains/:symbol/contracts", h.GetLiveContracts)
		v1.DELETE("/chains/:symbol/contracts", h.ClearLiveContracts)
		v1.POST("/maintenance/archive", h.ArchiveExpiredAndCleanup)
	}
}

// Ingest 接收采集方的原始合约数组并摄取
func (h *ChainHandler) Ingest(c *gin.Context) {
	symbol := c.Param("symbol")

	var payloads []application.ContractPayload
	if err := c.ShouldBindJSON(&payloads); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	contracts, err := application.ConvertPayloads(symbol, payloads)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	report, err := h.ingest.Ingest(c.Request.Context(), symbol, contracts)
	if err != nil {
		var ingestErr *application.IngestError
		if errors.As(err, &ingestErr) && report.Written > 0 {
			// 部分分组已提交，部分失败
			c.JSON(http.StatusMultiStatus, report)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

// GetLiveContracts 查询存活合约，可按到期日过滤
func (h *ChainHandler) GetLiveContracts(c *gin.Context) {
	symbol := c.Param("symbol")

	var expiration *time.Time
	if raw := c.Query("expiration"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "expiration must be YYYY-MM-DD"})
			return
		}
		expiration = &parsed
	}

	contracts, err := h.query.GetLiveContracts(c.Request.Context(), symbol, expiration)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "contracts": contracts})
}

// ClearLiveContracts 清空某标的的存活合约
func (h *ChainHandler) ClearLiveContracts(c *gin.Context) {
	symbol := c.Param("symbol")

	if err := h.query.ClearLiveContracts(c.Request.Context(), symbol); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ArchiveExpiredAndCleanup 手动触发生命周期维护
func (h *ChainHandler) ArchiveExpiredAndCleanup(c *gin.Context) {
	if err := h.lifecycle.ArchiveExpiredAndCleanup(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
