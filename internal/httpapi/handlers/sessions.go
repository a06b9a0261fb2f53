package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bizpilot/convocore/internal/common"
	"github.com/bizpilot/convocore/internal/session"
)

type createSessionReq struct {
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *Handler) CreateSession(c *gin.Context) {
	tenantID, participantID, okk := tenantFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty {}

	var key *string
	if req.IdempotencyKey != "" {
		key = &req.IdempotencyKey
	}

	sess, err := h.SessionSvc.CreateSession(c.Request.Context(), tenantID, participantID, key)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}

	common.OK(c, gin.H{
		"session_id": sess.SessionID,
		"version":    sess.Version,
		"status":     sess.Status,
	})
}

type sendMessageReq struct {
	SessionID       string `json:"session_id"`
	Message         string `json:"message" binding:"required"`
	ExpectedVersion uint64 `json:"expected_version"`
}

func (h *Handler) SendMessage(c *gin.Context) {
	tenantID, participantID, okk := tenantFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.SessionSvc.SendMessage(c.Request.Context(), tenantID, participantID,
		req.SessionID, req.Message, req.ExpectedVersion)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to send message")
		return
	}

	switch res.Status {
	case session.SendConflict:
		c.JSON(http.StatusConflict, gin.H{
			"code":    40901,
			"message": "version conflict, refresh and resubmit",
			"data": gin.H{
				"session_id":      res.SessionID,
				"current_version": res.CurrentVersion,
			},
		})
	case session.SendClosed:
		common.Fail(c, http.StatusGone, 41001, "session closed")
	default:
		common.OK(c, res)
	}
}

func (h *Handler) ListMessages(c *gin.Context) {
	tenantID, _, okk := tenantFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	page, err := h.SessionSvc.GetHistory(c.Request.Context(), tenantID, sessionID, limit, offset)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to list messages")
		return
	}

	common.OK(c, page)
}

func (h *Handler) CloseSession(c *gin.Context) {
	tenantID, _, okk := tenantFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	sessionID := c.Param("session_id")
	if err := h.SessionSvc.CloseSession(c.Request.Context(), tenantID, sessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to close session")
		return
	}

	common.OK(c, gin.H{"session_id": sessionID, "status": session.StatusClosed})
}
