package handler

import (
	"net/http"

	"assetflow/internal/middleware"
	"assetflow/internal/policy"
	"assetflow/internal/service"
	"assetflow/pkg/pagination"
	"assetflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type AuditHandler struct {
	auditService service.AuditService
}

func NewAuditHandler(auditService service.AuditService) *AuditHandler {
	return &AuditHandler{auditService: auditService}
}

// RegisterRoutes expects an authenticated group.
func (h *AuditHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/audit-logs", middleware.RequireRole(policy.RoleAdmin), h.GetAuditLogs)
}

// GetAuditLogs pages through the audit trail, newest first
// @Summary      Get audit logs
// @Tags         audit
// @Security     BearerAuth
// @Produce      json
// @Param        page       query     int     false  "Page number (default 1)"
// @Param        limit      query     int     false  "Number of items per page (default 20)"
// @Param        action     query     string  false  "Action, e.g. APPROVE_REQUEST"
// @Param        entity_id  query     string  false  "Entity id"
// @Success      200        {object}  response.Response{data=response.Page}
// @Router       /api/audit-logs [get]
func (h *AuditHandler) GetAuditLogs(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	logs, total, err := h.auditService.List(c.Request.Context(), actor, service.AuditListFilter{
		Page:     p.Page,
		Limit:    p.Limit,
		Action:   c.Query("action"),
		EntityID: c.Query("entity_id"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Paged(http.StatusOK, logs, total, p.Page, p.Limit))
}
