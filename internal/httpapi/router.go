package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bizpilot/convocore/internal/common"
	"github.com/bizpilot/convocore/internal/config"
	"github.com/bizpilot/convocore/internal/httpapi/handlers"
	"github.com/bizpilot/convocore/internal/httpapi/middleware"
	"github.com/bizpilot/convocore/internal/session"
)

func NewRouter(cfg config.Config, svc *session.Service) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.RequestID())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	h := handlers.NewHandler(cfg, svc)

	r.GET("/ping", h.Ping)

	authGroup := r.Group("/")
	authGroup.Use(middleware.AuthRequired(cfg.JWTSecret))
	authGroup.POST("/sessions", h.CreateSession)
	authGroup.POST("/messages", h.SendMessage)
	authGroup.GET("/sessions/:session_id/messages", h.ListMessages)
	authGroup.POST("/sessions/:session_id/close", h.CloseSession)
	return r
}
