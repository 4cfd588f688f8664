package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

type StatsAppService interface {
	Report(ctx context.Context, q *dto.StatsQuery) (*dto.StatsResponse, error)
}

type MaintenanceRunner interface {
	RunAll(ctx context.Context, now time.Time) (*dto.MaintenanceReport, error)
}

// AdminHandler serves the operator routes.
type AdminHandler struct {
	guard       GuardAppService
	stats       StatsAppService
	maintenance MaintenanceRunner
	now         func() time.Time
	log         logger.Logger
}

func NewAdminHandler(guard GuardAppService, stats StatsAppService, maintenance MaintenanceRunner, log logger.Logger) *AdminHandler {
	return &AdminHandler{
		guard:       guard,
		stats:       stats,
		maintenance: maintenance,
		now:         time.Now,
		log:         log.WithComponent("admin_handler"),
	}
}

// Stats handles GET /v1/admin/stats?from=&to=&top=.
func (h *AdminHandler) Stats(c *gin.Context) {
	var q dto.StatsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, bindError(err))
		return
	}
	resp, err := h.stats.Report(c.Request.Context(), &q)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

// Block handles POST /v1/admin/blocks.
func (h *AdminHandler) Block(c *gin.Context) {
	var req dto.BlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	resp, err := h.guard.Block(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

// Unblock handles DELETE /v1/admin/blocks/:dimension/:identifier?scope=.
func (h *AdminHandler) Unblock(c *gin.Context) {
	req := dto.UnblockRequest{
		Dimension:  c.Param("dimension"),
		Identifier: c.Param("identifier"),
		Scope:      c.Query("scope"),
	}
	resp, err := h.guard.Unblock(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

// RunMaintenance handles POST /v1/admin/maintenance/run. Partial failures still
// return the report next to the error.
func (h *AdminHandler) RunMaintenance(c *gin.Context) {
	report, err := h.maintenance.RunAll(c.Request.Context(), h.now())
	if err != nil {
		h.log.Error(c.Request.Context(), "Maintenance run via API failed", err)
		resp := dto.ErrorResponse(errors.ErrServerError("maintenance run failed").WithCause(err), requestID(c))
		resp.Data = report
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	respondOK(c, report)
}
