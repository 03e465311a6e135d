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

type DistributorHandler struct {
	distributors service.DistributorService
}

func NewDistributorHandler(distributors service.DistributorService) *DistributorHandler {
	return &DistributorHandler{distributors: distributors}
}

// RegisterRoutes expects an authenticated group.
func (h *DistributorHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/distributors/options", h.Options)

	admin := router.Group("/distributors", middleware.RequireRole(policy.RoleAdmin))
	{
		admin.GET("", h.List)
		admin.GET("/:id", h.Get)
		admin.POST("", h.Create)
		admin.PUT("/:id", h.Update)
		admin.DELETE("/:id", h.Delete)
	}
}

// Options lists the distributors the caller may submit requests against
// @Summary      Distributor options
// @Tags         distributors
// @Security     BearerAuth
// @Produce      json
// @Success      200  {object}  response.Response{data=[]service.DistributorOption}
// @Router       /api/distributors/options [get]
func (h *DistributorHandler) Options(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	options, err := h.distributors.Options(c.Request.Context(), actor)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, options))
}

// List handles GET /api/distributors
// @Summary      List distributors
// @Tags         distributors
// @Security     BearerAuth
// @Produce      json
// @Param        page    query     int     false  "Page number (default 1)"
// @Param        limit   query     int     false  "Items per page (default 20)"
// @Param        search  query     string  false  "Name, code or SE name"
// @Param        sort    query     string  false  "name, code, se, bm or rh"
// @Param        order   query     string  false  "asc or desc"
// @Success      200     {object}  response.Response{data=response.Page}
// @Router       /api/distributors [get]
func (h *DistributorHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	p := pagination.Parse(c)

	items, total, err := h.distributors.List(c.Request.Context(), actor, service.DistributorListFilter{
		Page:   p.Page,
		Limit:  p.Limit,
		Search: c.Query("search"),
		Sort:   p.Sort,
		Order:  p.Order,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Paged(http.StatusOK, items, total, p.Page, p.Limit))
}

func (h *DistributorHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	d, err := h.distributors.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, d))
}

// Create handles POST /api/distributors
// @Summary      Create distributor
// @Tags         distributors
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body      service.DistributorRequest  true  "Distributor"
// @Success      201      {object}  response.Response{data=service.DistributorResponse}
// @Failure      400      {object}  response.Response
// @Failure      409      {object}  response.Response
// @Router       /api/distributors [post]
func (h *DistributorHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.DistributorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	d, err := h.distributors.Create(c.Request.Context(), actor, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, d))
}

// Update handles PUT /api/distributors/:id
// @Summary      Update distributor
// @Tags         distributors
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path      int                         true  "Distributor id"
// @Param        payload  body      service.DistributorRequest  true  "Distributor"
// @Success      200      {object}  response.Response{data=service.DistributorResponse}
// @Router       /api/distributors/{id} [put]
func (h *DistributorHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req service.DistributorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload: "+err.Error())
		return
	}
	d, err := h.distributors.Update(c.Request.Context(), actor, id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, d))
}

// Delete handles DELETE /api/distributors/:id
// @Summary      Delete distributor
// @Tags         distributors
// @Security     BearerAuth
// @Produce      json
// @Param        id   path      int  true  "Distributor id"
// @Success      200  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/distributors/{id} [delete]
func (h *DistributorHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	id, ok := paramID(c)
	if !ok {
		return
	}
	if err := h.distributors.Delete(c.Request.Context(), actor, id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, gin.H{"message": "Distributor deleted"}))
}
