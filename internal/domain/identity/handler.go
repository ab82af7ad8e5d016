package identity

import (
	"context"
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

	api.POST("/employees", h.CreateEmployee, admin)
	api.GET("/employees", h.ListEmployees)
	api.GET("/employees/:id", h.GetEmployee)
	api.PUT("/employees/:id", h.UpdateEmployee, admin)

	api.POST("/accounts", h.CreateAccount, admin)
	api.PUT("/accounts/:id", h.UpdateAccount, admin)
	api.DELETE("/accounts/:id", h.DeleteAccount, admin)
	api.GET("/organizations/:id/accounts", h.ListAccounts)

	api.POST("/licenses", h.CreateLicense)
	api.GET("/licenses/:id", h.GetLicense)
	api.GET("/employees/:id/licenses", h.ListLicenses)
	api.POST("/licenses/:id/approve", h.ApproveLicense, admin)
	api.POST("/licenses/:id/reject", h.RejectLicense, admin)
	api.POST("/licenses/:id/supersede", h.SupersedeLicense)

	api.GET("/organizations/:id/lock", h.LockStatus)

	api.POST("/licenses/expire-due", h.ExpireDueLicenses, admin)
}

func (h *Handler) CreateEmployee(c echo.Context) error {
	var e Employee
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.CreateEmployee(c.Request().Context(), actor, &e); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, e)
}

func (h *Handler) GetEmployee(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	e, err := h.svc.GetEmployee(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) ListEmployees(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEmployees(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateEmployee(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var e Employee
	if err := c.Bind(&e); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	e.ID = id
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.UpdateEmployee(c.Request().Context(), actor, &e); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) CreateAccount(c echo.Context) error {
	var a Account
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.CreateAccount(c.Request().Context(), actor, &a); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) UpdateAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var a Account
	if err := c.Bind(&a); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	a.ID = id
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.UpdateAccount(c.Request().Context(), actor, &a); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) DeleteAccount(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.DeleteAccount(c.Request().Context(), actor, id); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) ListAccounts(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAccounts(c.Request().Context(), orgID, pg.Limit, pg.Offset)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) CreateLicense(c echo.Context) error {
	var l License
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.CreateLicense(c.Request().Context(), actor, &l); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) GetLicense(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	l, err := h.svc.GetLicense(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListLicenses(c echo.Context) error {
	employeeID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	items, err := h.svc.ListLicenses(c.Request().Context(), employeeID)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) ApproveLicense(c echo.Context) error {
	return h.review(c, h.svc.ApproveLicense)
}

func (h *Handler) RejectLicense(c echo.Context) error {
	return h.review(c, h.svc.RejectLicense)
}

func (h *Handler) review(c echo.Context, fn func(context.Context, auth.Actor, uuid.UUID) error) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := fn(c.Request().Context(), actor, id); err != nil {
		return errs.JSON(c, err)
	}
	l, err := h.svc.GetLicense(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) SupersedeLicense(c echo.Context) error {
	oldID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var l License
	if err := c.Bind(&l); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.SupersedeLicense(c.Request().Context(), actor, oldID, &l); err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) ExpireDueLicenses(c echo.Context) error {
	n, err := h.svc.ExpireDueLicenses(c.Request().Context())
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]int{"expired": n})
}

func (h *Handler) LockStatus(c echo.Context) error {
	orgID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	locked, err := h.svc.IsLocked(c.Request().Context(), orgID)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"locked": locked})
}
