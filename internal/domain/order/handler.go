package order

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/resonantbio/portal/internal/platform/auth"
	"github.com/resonantbio/portal/internal/platform/labbridge"
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
	api.GET("/service-types", h.ListServiceTypes)

	api.POST("/orders", h.CreateOrder)
	api.GET("/orders", h.ListOrders)
	api.GET("/orders/:id", h.GetOrder)
	api.POST("/orders/:id/cancel", h.Cancel)
	api.POST("/orders/:id/requisition", h.UploadRequisition)
	api.POST("/orders/:id/adjustments", h.AddAdjustment)

	api.GET("/service-requests/:id", h.GetRequest)
	api.GET("/service-requests/:id/quote", h.QuoteOrder)
	api.POST("/service-requests/:id/assign-kit", h.AssignKit)
	api.POST("/service-requests/:id/assign-patient", h.AssignPatient)
	api.POST("/service-requests/:id/assign-practitioner", h.AssignPractitioner)
	api.POST("/service-requests/:id/finalize", h.Finalize)
}

// RegisterBridgeRoutes mounts the lab-facing batch endpoints. These carry a
// credited system actor, not an employee.
func (h *Handler) RegisterBridgeRoutes(api *echo.Group) {
	api.POST("/lab/submissions", h.SubmitToLab)
	api.POST("/lab/results", h.RecordLabResults)
}

func (h *Handler) ListServiceTypes(c echo.Context) error {
	items, err := h.svc.ListServiceTypes(c.Request().Context())
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

type createOrderRequest struct {
	ServiceTypeIDs []uuid.UUID `json:"service_type_ids"`
}

func (h *Handler) CreateOrder(c echo.Context) error {
	var req createOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	o, err := h.svc.CreateOrder(c.Request().Context(), actor, actor.OrganizationID, req.ServiceTypeIDs)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, o)
}

func (h *Handler) GetOrder(c echo.Context) error {
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

func (h *Handler) ListOrders(c echo.Context) error {
	actor := auth.ActorFromContext(c.Request().Context())
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), actor.OrganizationID, pg.Limit, pg.Offset)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Cancel(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.Cancel(c.Request().Context(), actor, id); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type uploadRequisitionRequest struct {
	BlobKey string `json:"blob_key"`
}

func (h *Handler) UploadRequisition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req uploadRequisitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.UploadRequisition(c.Request().Context(), actor, id, req.BlobKey); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type addAdjustmentRequest struct {
	AdjustmentType string `json:"adjustment_type"`
	Amount         int64  `json:"amount"`
}

func (h *Handler) AddAdjustment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req addAdjustmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	a, err := h.svc.AddAdjustment(c.Request().Context(), actor, id, req.AdjustmentType, req.Amount)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetRequest(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	detail, err := h.svc.GetRequest(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, detail)
}

func (h *Handler) QuoteOrder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	q, err := h.svc.QuoteOrder(c.Request().Context(), id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, q)
}

type assignKitRequest struct {
	KitID string `json:"kit_id"`
}

func (h *Handler) AssignKit(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignKitRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	spec, err := h.svc.AssignKit(c.Request().Context(), actor, id, req.KitID)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusCreated, spec)
}

type assignPatientRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) AssignPatient(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignPatientRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.AssignPatient(c.Request().Context(), actor, id, req.PatientID); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type assignPractitionerRequest struct {
	PractitionerID uuid.UUID `json:"practitioner_id"`
}

func (h *Handler) AssignPractitioner(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req assignPractitionerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	if err := h.svc.AssignPractitioner(c.Request().Context(), actor, id, req.PractitionerID); err != nil {
		return errs.JSON(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Finalize(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	actor := auth.ActorFromContext(c.Request().Context())
	o, err := h.svc.Finalize(c.Request().Context(), actor, id)
	if err != nil {
		return errs.JSON(c, err)
	}
	return c.JSON(http.StatusOK, o)
}

func (h *Handler) SubmitToLab(c echo.Context) error {
	var batch []labbridge.Submission
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	res := h.svc.SubmitToLab(c.Request().Context(), batch)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RecordLabResults(c echo.Context) error {
	var batch []labbridge.Result
	if err := c.Bind(&batch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	res := h.svc.RecordLabResults(c.Request().Context(), batch)
	return c.JSON(http.StatusOK, res)
}
