package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
)

func requestID(c *gin.Context) string {
	id, _ := c.Request.Context().Value(constants.ContextKeyRequestID).(string)
	return id
}

func respondOK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.SuccessResponse(data, requestID(c)))
}

func respondError(c *gin.Context, err error) {
	c.JSON(errors.HTTPStatusOf(err), dto.ErrorResponse(err, requestID(c)))
}

func bindError(err error) error {
	return errors.ErrInvalidRequest("malformed request: " + err.Error())
}
