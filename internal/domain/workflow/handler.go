package workflow

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicflow/clinicflow/internal/domain/patient"
	"github.com/clinicflow/clinicflow/internal/platform/apperr"
	"github.com/clinicflow/clinicflow/internal/platform/auth"
	"github.com/clinicflow/clinicflow/pkg/pagination"
)

type Handler struct {
	engine *Engine
	proj   *Projections
}

func NewHandler(engine *Engine, proj *Projections) *Handler {
	return &Handler{engine: engine, proj: proj}
}

// RegisterRoutes gates each route with its role check directly, so the
// group keeps a single not-found handler.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/patients", h.ListPatients)
	api.GET("/patients/:id", h.GetPatient)
	api.GET("/patients/:id/audit", h.GetAuditTrail)
	api.GET("/tests/waiting", h.WaitingTests)
	api.GET("/dashboard/metrics", h.DashboardMetrics)
	api.POST("/transitions", h.Transition)

	front := auth.RequireRole(auth.RoleReceptionist)
	api.POST("/patients", h.RegisterPatient, front)

	screening := auth.RequireRole(auth.RoleReceptionist, auth.RoleTechnician)
	api.GET("/patients/registered", h.RegisteredPatients, screening)
	api.POST("/tests", h.AssignTests, screening)

	tech := auth.RequireRole(auth.RoleTechnician)
	api.PUT("/tests/start/:id", h.StartTest, tech)
	api.PUT("/tests/complete/:id", h.CompleteTest, tech)

	doctor := auth.RequireRole(auth.RoleDoctor)
	api.GET("/consultation/queue", h.DoctorQueue, doctor)
	api.PUT("/consultation/start/:patientId", h.StartConsultation, doctor)
	api.PUT("/consultation/end/:patientId", h.EndConsultation, doctor)

	bills := auth.RequireRole(auth.RoleBilling)
	api.POST("/billing", h.CreateBill, bills)
	api.PUT("/billing/pay/:id", h.PayBill, bills)
	api.GET("/billing/pending", h.PendingBills, bills)

	api.GET("/audit/recent", h.RecentActivity, auth.RequireRole(auth.RoleAdmin))
}

// entityRoles gates POST /transitions by entity.
var entityRoles = map[string]string{
	EntityTest:         auth.RoleTechnician,
	EntityConsultation: auth.RoleDoctor,
	EntityBill:         auth.RoleBilling,
}

type assignTestsRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	TestTypes []string  `json:"test_types"`
}

type createBillRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
	Amount    float64   `json:"amount"`
}

type payBillRequest struct {
	PaymentMode string `json:"payment_mode"`
}

func actor(c echo.Context) string {
	if id := auth.UserIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	return "anonymous"
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Commands --

func (h *Handler) RegisterPatient(c echo.Context) error {
	var reg patient.Registration
	if err := c.Bind(&reg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := h.engine.RegisterPatient(c.Request().Context(), reg, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) AssignTests(c echo.Context) error {
	var req assignTestsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	tests, err := h.engine.AssignTests(c.Request().Context(), req.PatientID, req.TestTypes, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, tests)
}

func (h *Handler) StartTest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.engine.StartTest(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CompleteTest(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	res, err := h.engine.CompleteTest(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) StartConsultation(c echo.Context) error {
	id, err := parseID(c, "patientId")
	if err != nil {
		return err
	}
	p, err := h.engine.StartConsultation(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) EndConsultation(c echo.Context) error {
	id, err := parseID(c, "patientId")
	if err != nil {
		return err
	}
	p, err := h.engine.EndConsultation(c.Request().Context(), id, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) CreateBill(c echo.Context) error {
	var req createBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.PatientID == uuid.Nil {
		return echo.NewHTTPError(http.StatusBadRequest, "patient_id is required")
	}
	b, err := h.engine.CreateBill(c.Request().Context(), req.PatientID, req.Amount, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) PayBill(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var req payBillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.engine.PayBill(c.Request().Context(), id, req.PaymentMode, actor(c))
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

// Transition applies an id-only action. The caller needs the role that owns
// the entity.
func (h *Handler) Transition(c echo.Context) error {
	var req Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	role, ok := entityRoles[strings.ToLower(req.Entity)]
	if !ok {
		return apperr.ToHTTP(apperr.Validationf(req.Entity, req.Action, "unknown entity %q", req.Entity))
	}
	if !auth.HasRole(auth.RolesFromContext(c.Request().Context()), role) {
		return echo.NewHTTPError(http.StatusForbidden, "required role: "+role)
	}
	req.Actor = actor(c)
	st, err := h.engine.Transition(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, st)
}

// -- Queries --

func (h *Handler) ListPatients(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := patient.Filter{
		Stage:  patient.Stage(c.QueryParam("stage")),
		Status: patient.Status(c.QueryParam("status")),
	}
	all, err := h.proj.ListPatients(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Page(all, pg), len(all), pg.Limit, pg.Offset))
}

func (h *Handler) GetPatient(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	d, err := h.proj.Patient(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) GetAuditTrail(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	entries, err := h.proj.AuditTrail(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entries)
}

// RecentActivity returns the latest audit entries across all patients,
// oldest first. ?limit defaults to 50.
func (h *Handler) RecentActivity(c echo.Context) error {
	limit := DefaultActivityLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	entries, err := h.proj.RecentActivity(c.Request().Context(), limit)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, entries)
}

func (h *Handler) RegisteredPatients(c echo.Context) error {
	ps, err := h.proj.RegisteredAwaitingTests(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *Handler) WaitingTests(c echo.Context) error {
	ts, err := h.proj.WaitingTests(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ts)
}

func (h *Handler) DoctorQueue(c echo.Context) error {
	ps, err := h.proj.DoctorQueue(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, ps)
}

func (h *Handler) PendingBills(c echo.Context) error {
	bs, err := h.proj.PendingBills(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, bs)
}

func (h *Handler) DashboardMetrics(c echo.Context) error {
	d, err := h.proj.Metrics(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, d)
}
