package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/pkg/logger"
)

// GuardAppService is what the guard and admin block routes need from the application layer.
type GuardAppService interface {
	Check(ctx context.Context, req *dto.AttemptRequest) (*dto.CheckResponse, error)
	Record(ctx context.Context, req *dto.AttemptRequest) (*dto.RecordResponse, error)
	Block(ctx context.Context, req *dto.BlockRequest) (*dto.BlockResponse, error)
	Unblock(ctx context.Context, req *dto.UnblockRequest) (*dto.UnblockResponse, error)
}

// GuardHandler serves the decision API used by the guarded services.
type GuardHandler struct {
	guard GuardAppService
	log   logger.Logger
}

func NewGuardHandler(guard GuardAppService, log logger.Logger) *GuardHandler {
	return &GuardHandler{guard: guard, log: log.WithComponent("guard_handler")}
}

// fillUserAgent defaults the user agent to the request header. The ip is left as
// sent; an empty ip skips that dimension.
func fillUserAgent(c *gin.Context, req *dto.AttemptRequest) {
	if req.UserAgent == "" {
		req.UserAgent = c.Request.UserAgent()
	}
}

// Check handles POST /v1/guard/check. A denied attempt is still a 200; callers
// read the decision.
func (h *GuardHandler) Check(c *gin.Context) {
	var req dto.AttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	fillUserAgent(c, &req)

	resp, err := h.guard.Check(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}

// Record handles POST /v1/guard/record.
func (h *GuardHandler) Record(c *gin.Context) {
	var req dto.AttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}
	fillUserAgent(c, &req)

	resp, err := h.guard.Record(c.Request.Context(), &req)
	if err != nil {
		h.log.Error(c.Request.Context(), "Record failed", err)
		respondError(c, err)
		return
	}
	respondOK(c, resp)
}
