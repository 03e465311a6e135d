package handler

import (
	"net/http"
	"strconv"

	"assetflow/internal/service"
	"assetflow/pkg/pagination"
	"assetflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type AssetRequestHandler struct {
	requests   service.AssetRequestService
	approvals  service.ApprovalService
	deployment service.DeploymentService
	export     service.ExportService
}

func NewAssetRequestHandler(
	requests service.AssetRequestService,
	approvals service.ApprovalService,
	deployment service.DeploymentService,
	export service.ExportService,
) *AssetRequestHandler {
	return &AssetRequestHandler{
		requests:   requests,
		approvals:  approvals,
		deployment: deployment,
		export:     export,
	}
}

// RegisterRoutes expects an authenticated group.
func (h *AssetRequestHandler) RegisterRoutes(router *gin.RouterGroup) {
	requests := router.Group("/requests")
	{
		requests.GET("", h.List)
		requests.POST("", h.Create)
		requests.GET("/stats", h.Stats)
		requests.GET("/export", h.Export)
		requests.GET("/:id", h.Get)
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/reject", h.Reject)
		requests.POST("/:id/deploy", h.Deploy)
	}
	router.GET("/check-phone/:phone", h.CheckPhone)
}

// List returns the caller's visible requests with dashboard statistics
// @Summary      List asset requests
// @Description  Role-scoped listing with distributor search, status and requester filters
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        page                query     int     false  "Page number (default 1)"
// @Param        limit               query     int     false  "Items per page (default 20)"
// @Param        sort                query     string  false  "id, date, asset, status, requester or distributor"
// @Param        order               query     string  false  "asc or desc"
// @Param        search_distributor  query     string  false  "Distributor name substring"
// @Param        status              query     string  false  "Exact status"
// @Param        requester           query     int     false  "Requester id"
// @Success      200  {object}  response.Response{data=service.RequestListResult}
// @Router       /api/requests [get]
func (h *AssetRequestHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	result, err := h.requests.List(c.Request.Context(), actor, service.RequestListFilter{
		Page:              p.Page,
		Limit:             p.Limit,
		Sort:              p.Sort,
		Order:             p.Order,
		SearchDistributor: c.Query("search_distributor"),
		Status:            c.Query("status"),
		RequesterID:       pagination.OptionalUint(c, "requester"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Stats returns the dashboard counters for the caller's scope
// @Summary      Request statistics
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=service.DashboardStats}
// @Router       /api/requests/stats [get]
func (h *AssetRequestHandler) Stats(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	stats, err := h.requests.Stats(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, stats))
}

// Create submits a new asset request
// @Summary      Create asset request
// @Description  SE, DB and Admin users submit a request against a distributor in their scope
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.CreateAssetRequestDTO  true  "Request payload"
// @Success      201      {object}  response.Response{data=service.AssetRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests [post]
func (h *AssetRequestHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	var req service.CreateAssetRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	created, err := h.requests.Create(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, created))
}

// Get returns a single request if the caller may see it
// @Summary      Get asset request
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Request id"
// @Success      200  {object}  response.Response{data=service.AssetRequestResponse}
// @Failure      403  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/requests/{id} [get]
func (h *AssetRequestHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	req, err := h.requests.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, req))
}

// Approve records the caller's approval at the request's current stage
// @Summary      Approve asset request
// @Description  BM approvals need approval_type "security" (with security_amount) or "foc" (with foc_justification)
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                        true  "Request id"
// @Param        payload  body      service.ApproveRequestDTO  true  "Approval"
// @Success      200      {object}  response.Response{data=service.AssetRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      403      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/approve [post]
func (h *AssetRequestHandler) Approve(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req service.ApproveRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.approvals.Approve(c.Request.Context(), actor, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Reject ends the request with the caller's remarks
// @Summary      Reject asset request
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                       true  "Request id"
// @Param        payload  body      service.RejectRequestDTO  true  "Rejection remarks"
// @Success      200      {object}  response.Response{data=service.AssetRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/reject [post]
func (h *AssetRequestHandler) Reject(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req service.RejectRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.approvals.Reject(c.Request.Context(), actor, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Deploy records the installed asset against an approved request
// @Summary      Deploy asset
// @Tags         requests
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                       true  "Request id"
// @Param        payload  body      service.DeployRequestDTO  true  "Deployment details"
// @Success      200      {object}  response.Response{data=service.AssetRequestResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/requests/{id}/deploy [post]
func (h *AssetRequestHandler) Deploy(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}

	var req service.DeployRequestDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}

	result, err := h.deployment.Deploy(c.Request.Context(), actor, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, result))
}

// Export streams the caller's requests as a DMS workbook
// @Summary      Export requests to Excel
// @Tags         requests
// @Security     BearerAuth
// @Produce      application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param        start_date  query  string  false  "YYYY-MM-DD"
// @Param        end_date    query  string  false  "YYYY-MM-DD, inclusive"
// @Param        requester   query  int     false  "Requester id"
// @Param        status      query  string  false  "Exact status"
// @Success      200
// @Router       /api/requests/export [get]
func (h *AssetRequestHandler) Export(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}

	file, err := h.export.Export(c.Request.Context(), actor, service.ExportFilter{
		StartDate:   c.Query("start_date"),
		EndDate:     c.Query("end_date"),
		RequesterID: pagination.OptionalUint(c, "requester"),
		Status:      c.Query("status"),
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+file.Filename+`"`)
	c.Header("X-Export-Rows", strconv.Itoa(file.Rows))
	c.Data(http.StatusOK, service.ExportContentType, file.Content.Bytes())
}

// CheckPhone reports existing requests for a retailer contact number
// @Summary      Check retailer contact
// @Tags         requests
// @Security     BearerAuth
// @Produce      json
// @Param        phone  path      string  true  "10-digit contact number"
// @Success      200    {object}  response.Response{data=object}
// @Router       /api/check-phone/{phone} [get]
func (h *AssetRequestHandler) CheckPhone(c *gin.Context) {
	if _, ok := currentActor(c); !ok {
		return
	}

	matches, err := h.requests.CheckPhone(c.Request.Context(), c.Param("phone"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{
		"exists":  len(matches) > 0,
		"matches": matches,
	}))
}
