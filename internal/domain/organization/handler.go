package organization

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/pkg/errs"
	"github.com/resonantbio/portal/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	admin := auth.RequireRole(auth.RoleAdmin)

	api.POST("/organizations", h.Create, admin)
	api.GET("/organizations", h.List)
	api.GET("/organizations/:id", h.Get)
	api.PUT("/organizations/:id", h.Update, admin)

	api.POST("/organizations/:id/addresses", h.AddAddress, admin)
	api.GET("/organizations/:id/addresses", h.ListAddresses)
	api.DELETE("/organizations/:id/addresses/:addressId", h.RemoveAddress, admin)
}

func (h *Handler) Create(c echo.Context) error {
	var o Organization
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Create(c.Request().Context(), actor, &o); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	o, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var o Organization
	if err := c.Bind(&o); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	o.ID = id
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Update(c.Request().Context(), actor, &o); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) AddAddress(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Address
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	a.OrganizationID = orgID
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.AddAddress(c.Request().Context(), actor, &a); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) ListAddresses(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListAddresses(c.Request().Context(), orgID)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) RemoveAddress(c echo.Context) error {
	id, err := uuid.Parse(c.Param("addressId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid address id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.RemoveAddress(c.Request().Context(), actor, id); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
