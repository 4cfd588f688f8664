package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/certguard/internal/application/dto"
	"github.com/turtacn/certguard/pkg/constants"
	"github.com/turtacn/certguard/pkg/errors"
	"github.com/turtacn/certguard/pkg/logger"
)

// AdminRole is the role claim an admin token must carry.
const AdminRole = "certguard:admin"

// AdminClaims are the claims of an operator token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// RequireAdminJWT protects operator routes with an HS256 bearer token carrying the
// admin role. The token subject is put on the request context.
func RequireAdminJWT(secret []byte, issuer string, log logger.Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tokenStr := extractBearer(c.GetHeader("Authorization"))
		if tokenStr == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		var claims AdminClaims
		if _, err := parser.ParseWithClaims(tokenStr, &claims, keyFunc); err != nil {
			log.Warn(ctx, "Admin token rejected", logger.Err(err))
			abortUnauthorized(c, "invalid admin token")
			return
		}
		if claims.Role != AdminRole {
			log.Warn(ctx, "Admin token without admin role", logger.String("subject", claims.Subject))
			abortUnauthorized(c, "token lacks the admin role")
			return
		}

		c.Request = c.Request.WithContext(context.WithValue(ctx, constants.ContextKeyAdminSubject, claims.Subject))
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	reqID, _ := c.Request.Context().Value(constants.ContextKeyRequestID).(string)
	c.AbortWithStatusJSON(401, dto.ErrorResponse(errors.ErrUnauthorized(msg), reqID))
}

// IssueAdminToken signs an admin token. It is used by guardctl and tests.
func IssueAdminToken(secret []byte, issuer, subject string, claims jwt.RegisteredClaims) (string, error) {
	claims.Issuer = issuer
	claims.Subject = subject
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{Role: AdminRole, RegisteredClaims: claims})
	return token.SignedString(secret)
}
