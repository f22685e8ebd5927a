package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"traffic-fines-service/internal/config"
	"traffic-fines-service/internal/detection"
	"traffic-fines-service/internal/domain/violation"
	"traffic-fines-service/internal/query"
	"traffic-fines-service/internal/service"
)

const exportStampLayout = "20060102_150405"

type Handler struct {
	finesService *service.FinesService
	auth         *Authenticator
	log          zerolog.Logger
	now          func() time.Time
}

func NewHandler(
	finesService *service.FinesService,
	auth *Authenticator,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		finesService: finesService,
		auth:         auth,
		log:          log,
		now:          time.Now,
	}
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	// Public endpoints
	public := r.Group("/api/v1")
	{
		public.POST("/auth/login", h.login)
		public.GET("/health", h.health)
	}

	// Any authenticated role
	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.GET("/violations", h.listViolations)
		protected.GET("/violations/:id", h.getViolation)
		protected.GET("/fines", h.listFines)
		protected.GET("/fines/summary", h.finesSummary)
		protected.GET("/analysis/overview", h.overview)
		protected.GET("/analysis/timeline", h.timeline)
		protected.GET("/analysis/violation-types", h.violationTypes)
		protected.GET("/export/csv", h.exportCSV)
		protected.GET("/export/json", h.exportJSON)
	}

	admin := r.Group("/api/v1")
	admin.Use(authMiddleware, RequireRole(config.RoleAdmin))
	{
		admin.POST("/detections", h.createDetections)
		admin.POST("/fines/mark-paid", h.markPaid)
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("username and password required"))
		return
	}

	token, user, err := h.auth.Login(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, errorResponse(err.Error()))
			return
		}
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, successResponse(gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(h.auth.ttl.Seconds()),
		"user": gin.H{
			"username": user.Name,
			"role":     user.Role,
		},
	}))
}

func (h *Handler) health(c *gin.Context) {
	status, err := h.finesService.Health(c.Request.Context())
	if err != nil {
		h.log.Warn().Err(err).Msg("health check failed")
		c.JSON(http.StatusServiceUnavailable, successResponse(status))
		return
	}
	c.JSON(http.StatusOK, successResponse(status))
}

func (h *Handler) createDetections(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("failed to read request body"))
		return
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, errorResponse("request body is required"))
		return
	}

	if body[0] == '[' {
		var inputs []detection.Input
		if err := json.Unmarshal(body, &inputs); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("invalid JSON: "+err.Error()))
			return
		}
		result, err := h.finesService.IngestBatch(c.Request.Context(), inputs)
		if err != nil {
			h.handleError(c, err)
			return
		}
		c.JSON(http.StatusCreated, successResponse(result))
		return
	}

	var in detection.Input
	if err := json.Unmarshal(body, &in); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("invalid JSON: "+err.Error()))
		return
	}
	result, err := h.finesService.Ingest(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(result))
}

func (h *Handler) listViolations(c *gin.Context) {
	page, pageSize, err := service.ParsePage(c.Query("page"), c.Query("page_size"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	result, err := h.finesService.ListViolations(page, pageSize)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) getViolation(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("violation id must be an integer"))
		return
	}

	record, err := h.finesService.GetViolation(idx)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(record))
}

func (h *Handler) listFines(c *gin.Context) {
	page, pageSize, err := service.ParsePage(c.Query("page"), c.Query("page_size"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	result, err := h.finesService.ListFines(c.Query("status"), page, pageSize)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type markPaidRequest struct {
	ViolationIdx  *int   `json:"violation_idx" binding:"required"`
	FineID        int64  `json:"fine_id" binding:"required"`
	PaymentMethod string `json:"payment_method"`
}

func (h *Handler) markPaid(c *gin.Context) {
	var req markPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse("violation_idx and fine_id are required"))
		return
	}

	fine, err := h.finesService.MarkPaid(c.Request.Context(), *req.ViolationIdx, req.FineID, req.PaymentMethod)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(fine))
}

func (h *Handler) finesSummary(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.finesService.FinesSummary()))
}

func (h *Handler) overview(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.finesService.Overview()))
}

func (h *Handler) timeline(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.finesService.Timeline()))
}

func (h *Handler) violationTypes(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.finesService.ViolationTypes()))
}

func (h *Handler) exportCSV(c *gin.Context) {
	rows := h.finesService.ExportRows()
	filename := fmt.Sprintf("violations_export_%s.csv", h.now().Format(exportStampLayout))

	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Status(http.StatusOK)
	if err := query.WriteCSV(c.Writer, rows); err != nil {
		h.log.Error().Err(err).Str("filename", filename).Msg("failed to stream csv export")
		_ = c.Error(err)
	}
}

func (h *Handler) exportJSON(c *gin.Context) {
	now := h.now()
	c.JSON(http.StatusOK, gin.H{
		"data":        h.finesService.ExportRows(),
		"filename":    fmt.Sprintf("violations_export_%s.json", now.Format(exportStampLayout)),
		"exported_at": now.Format(time.RFC3339),
	})
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, violation.ErrInvalidDetection),
		errors.Is(err, violation.ErrIssuance),
		errors.Is(err, violation.ErrInvalidPage):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, violation.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, violation.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, violation.ErrStoreUnavailable):
		h.log.Error().Err(err).Msg("ledger store unavailable")
		c.JSON(http.StatusServiceUnavailable, errorResponse("ledger store unavailable"))
	default:
		h.log.Error().Err(err).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
