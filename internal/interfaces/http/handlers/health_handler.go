package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/certguard/pkg/logger"
)

const healthTimeout = 2 * time.Second

// HealthChecker is a dependency that can report on itself.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (map[string]interface{}, error)
}

// HealthHandler reports the health of the service and its stores.
type HealthHandler struct {
	checkers map[string]HealthChecker
	log      logger.Logger
}

func NewHealthHandler(checkers map[string]HealthChecker, log logger.Logger) *HealthHandler {
	return &HealthHandler{checkers: checkers, log: log.WithComponent("health_handler")}
}

// LivenessCheck only reports that the process serves requests.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// HealthCheck runs every checker concurrently and fails when any of them does.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		checks = make(map[string]interface{}, len(h.checkers))
		failed bool
	)
	for name, checker := range h.checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()
			details, err := checker.HealthCheck(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed = true
				checks[name] = gin.H{"status": "error", "error": err.Error()}
				h.log.Warn(ctx, "Health check failed", logger.String("dependency", name), logger.Err(err))
				return
			}
			checks[name] = gin.H{"status": "ok", "details": details}
		}(name, checker)
	}
	wg.Wait()

	status, code := "healthy", http.StatusOK
	if failed {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    checks,
	})
}
