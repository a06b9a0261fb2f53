package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/bizpilot/convocore/internal/common"
)

const (
	TenantIDKey      = "tenant_id"
	ParticipantIDKey = "participant_id"
)

type claims struct {
	TenantID      string `json:"tenant_id"`
	ParticipantID string `json:"participant_id"`
	jwt.RegisteredClaims
}

// AuthRequired validates the platform-issued bearer token and puts the
// tenant and participant ids on the request context. Tenancy is resolved
// here and nowhere else; handlers never trust ids from the request body.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
			c.Abort()
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")

		var cl claims
		token, err := jwt.ParseWithClaims(raw, &cl, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || cl.TenantID == "" || cl.ParticipantID == "" {
			common.Fail(c, http.StatusUnauthorized, 40102, "invalid token")
			c.Abort()
			return
		}

		c.Set(TenantIDKey, cl.TenantID)
		c.Set(ParticipantIDKey, cl.ParticipantID)
		c.Next()
	}
}
