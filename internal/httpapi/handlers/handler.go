package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/bizpilot/convocore/internal/common"
	"github.com/bizpilot/convocore/internal/config"
	"github.com/bizpilot/convocore/internal/httpapi/middleware"
	"github.com/bizpilot/convocore/internal/session"
)

type Handler struct {
	Cfg        config.Config
	SessionSvc *session.Service
}

func NewHandler(cfg config.Config, svc *session.Service) *Handler {
	return &Handler{Cfg: cfg, SessionSvc: svc}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func tenantFromContext(c *gin.Context) (tenantID, participantID string, ok bool) {
	tv, ok1 := c.Get(middleware.TenantIDKey)
	pv, ok2 := c.Get(middleware.ParticipantIDKey)
	if !ok1 || !ok2 {
		return "", "", false
	}
	t, ok1 := tv.(string)
	p, ok2 := pv.(string)
	return t, p, ok1 && ok2
}
