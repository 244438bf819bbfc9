package registration

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clicare/kiosk/internal/domain/idcapture"
	"github.com/clicare/kiosk/internal/domain/qrintake"
	"github.com/clicare/kiosk/internal/platform/auth"
	"github.com/clicare/kiosk/internal/platform/backend"
	"github.com/clicare/kiosk/internal/platform/camera"
	"github.com/clicare/kiosk/internal/platform/session"
	"github.com/clicare/kiosk/pkg/pagination"
)

const submissionsPath = "/api/v1/kiosk/submissions"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Kiosk terminals (admins pass every role check)
	kiosk := api.Group("/kiosk", auth.RequireRole(auth.RoleKiosk))
	kiosk.POST("/handoff", h.CreateHandoff)
	kiosk.GET("/handoff/:key", h.GetHandoff)
	kiosk.POST("/sessions", h.StartSession)
	kiosk.GET("/sessions/:id", h.GetSession)
	kiosk.DELETE("/sessions/:id", h.CloseSession)
	kiosk.PATCH("/sessions/:id/fields", h.SetFields)
	kiosk.POST("/sessions/:id/next", h.NextStep)
	kiosk.POST("/sessions/:id/prev", h.PrevStep)
	kiosk.POST("/sessions/:id/symptoms/toggle", h.ToggleSymptom)
	kiosk.GET("/sessions/:id/lookups", h.GetLookups)
	kiosk.POST("/sessions/:id/camera/frame", h.PushFrame)
	kiosk.POST("/sessions/:id/camera/error", h.CameraError)
	kiosk.POST("/sessions/:id/id-capture", h.OpenIDCapture)
	kiosk.GET("/sessions/:id/id-capture", h.GetIDCapture)
	kiosk.DELETE("/sessions/:id/id-capture", h.CloseIDCapture)
	kiosk.POST("/sessions/:id/id-capture/capture", h.CaptureID)
	kiosk.POST("/sessions/:id/id-capture/retry", h.RetryID)
	kiosk.POST("/sessions/:id/qr", h.OpenQR)
	kiosk.GET("/sessions/:id/qr", h.GetQR)
	kiosk.DELETE("/sessions/:id/qr", h.CloseQR)
	kiosk.POST("/sessions/:id/submit", h.Submit)

	// Front desk
	admin := api.Group("/kiosk", auth.RequireRole(auth.RoleAdmin))
	admin.GET("/submissions", h.ListSubmissions)
}

// requestContext carries the caller's bearer token to the hospital backend.
func requestContext(c echo.Context) context.Context {
	ctx := c.Request().Context()
	return backend.WithToken(ctx, auth.TokenFromContext(ctx))
}

// httpError maps wizard errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, session.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrSessionClosed):
		return echo.NewHTTPError(http.StatusGone, err.Error())
	case errors.Is(err, ErrUnknownField),
		errors.Is(err, ErrFieldNotEditable),
		errors.Is(err, ErrInvalidFieldValue),
		errors.Is(err, ErrUnknownSymptom),
		errors.Is(err, idcapture.ErrIDTypeRequired),
		errors.Is(err, idcapture.ErrUnsupportedIDType),
		errors.Is(err, session.ErrInvalidKind),
		errors.Is(err, session.ErrMissingRecord):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrIntakeNotAllowed),
		errors.Is(err, ErrNotAtSummary),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrSubmitInProgress),
		errors.Is(err, qrintake.ErrAlreadyOpen),
		errors.Is(err, idcapture.ErrAlreadyOpen),
		errors.Is(err, idcapture.ErrNotOpen),
		errors.Is(err, idcapture.ErrCaptureUnavailable),
		errors.Is(err, idcapture.ErrRetryUnavailable),
		errors.Is(err, camera.ErrLeaseHeld):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func (h *Handler) wizard(c echo.Context) (*Wizard, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	w, err := h.svc.Get(id)
	if err != nil {
		return nil, httpError(err)
	}
	return w, nil
}

// -- Handoff --

func (h *Handler) CreateHandoff(c echo.Context) error {
	var in session.Handoff
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// A terminal logged in as a patient may only hand off that patient.
	if pid := auth.PatientIDFromContext(c.Request().Context()); pid != "" &&
		in.Patient != nil && in.Patient.PatientID != pid {
		return echo.NewHTTPError(http.StatusForbidden, "handoff patient does not match the logged-in patient")
	}
	key, err := h.svc.CreateHandoff(c.Request().Context(), &in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"key": key})
}

func (h *Handler) GetHandoff(c echo.Context) error {
	rec, err := h.svc.GetHandoff(c.Request().Context(), c.Param("key"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rec)
}

// -- Sessions --

type startRequest struct {
	HandoffKey string `json:"handoff_key"`
}

func (h *Handler) StartSession(c echo.Context) error {
	var in startRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.Start(requestContext(c), in.HandoffKey)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, w.View())
}

func (h *Handler) GetSession(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.View())
}

func (h *Handler) CloseSession(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Close(id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetFields(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	var updates map[string]any
	if err := c.Bind(&updates); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(updates) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no fields to update")
	}
	if err := w.SetFields(updates); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w.View())
}

// stepResponse reports whether a navigation request moved the wizard.
type stepResponse struct {
	Moved bool `json:"moved"`
	View  View `json:"view"`
}

func (h *Handler) NextStep(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	moved, err := w.NextStep(requestContext(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stepResponse{Moved: moved, View: w.View()})
}

func (h *Handler) PrevStep(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	moved, err := w.PrevStep()
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, stepResponse{Moved: moved, View: w.View()})
}

type toggleRequest struct {
	Symptom string `json:"symptom"`
}

func (h *Handler) ToggleSymptom(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	var in toggleRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if in.Symptom == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "symptom is required")
	}
	if _, err := w.ToggleSymptom(in.Symptom); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, w.View())
}

func (h *Handler) GetLookups(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.Lookups())
}

// -- Camera --

type frameRequest struct {
	DataURL string `json:"data_url"`
}

func (h *Handler) PushFrame(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	var in frameRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	accepted, err := w.PushFrame(in.DataURL)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]bool{"accepted": accepted})
}

type cameraErrorRequest struct {
	Kind string `json:"kind"`
}

func (h *Handler) CameraError(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	var in cameraErrorRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := w.CameraError(in.Kind); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- ID capture --

type idCaptureRequest struct {
	IDType string `json:"id_type"`
}

func (h *Handler) OpenIDCapture(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	var in idCaptureRequest
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := w.OpenIDCapture(idcapture.IDType(in.IDType)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, w.IDCapture())
}

func (h *Handler) GetIDCapture(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.IDCapture())
}

func (h *Handler) CloseIDCapture(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	w.CloseIDCapture()
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) CaptureID(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	if err := w.CaptureID(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, w.IDCapture())
}

func (h *Handler) RetryID(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	if err := w.RetryID(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, w.IDCapture())
}

// -- QR --

func (h *Handler) OpenQR(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	if err := w.OpenQR(); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusAccepted, w.QR())
}

func (h *Handler) GetQR(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w.QR())
}

func (h *Handler) CloseQR(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	w.CloseQR()
	return c.NoContent(http.StatusNoContent)
}

// -- Submission --

type submitResponse struct {
	Outcome *Outcome `json:"outcome,omitempty"`
	View    View     `json:"view"`
}

// Submit returns the updated view in every case the form is kept, so the
// kiosk can render the banner and field errors.
func (h *Handler) Submit(c echo.Context) error {
	w, err := h.wizard(c)
	if err != nil {
		return err
	}
	out, err := w.Submit(requestContext(c))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, submitResponse{Outcome: out, View: w.View()})
	case errors.Is(err, ErrIncomplete):
		return c.JSON(http.StatusUnprocessableEntity, submitResponse{View: w.View()})
	case errors.Is(err, ErrNotAtSummary),
		errors.Is(err, ErrAlreadySubmitted),
		errors.Is(err, ErrSubmitInProgress),
		errors.Is(err, ErrSessionClosed):
		return httpError(err)
	default:
		return c.JSON(http.StatusBadGateway, submitResponse{View: w.View()})
	}
}

func (h *Handler) ListSubmissions(c echo.Context) error {
	p := pagination.FromContext(c)
	subs, total, err := h.svc.ListSubmissions(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewPage(subs, total, p, submissionsPath))
}
