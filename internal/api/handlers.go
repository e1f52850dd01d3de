package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/itstheanurag/codejudge/internal/judge"
	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/rs/zerolog"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

type SubmissionRequest struct {
	Code      string `json:"code"`
	ProblemID int64  `json:"problem_id"`
	UserID    int64  `json:"user_id"`
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

type Service interface {
	Submit(ctx context.Context, req judge.SubmitRequest) (*model.Submission, error)
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error)
}

type Handler struct {
	service Service
	logger  *zerolog.Logger
}

func NewHandler(service Service, logger *zerolog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the submission routes. submitMiddleware runs only on the
// create endpoint.
func (h *Handler) Register(rg *gin.RouterGroup, submitMiddleware ...gin.HandlerFunc) {
	submissions := rg.Group("/submissions")
	submissions.POST("", append(submitMiddleware, h.Submit)...)
	submissions.GET("", h.List)
	submissions.GET("/:id", h.Get)
}

func (h *Handler) Submit(c *gin.Context) {
	var req SubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	sub, err := h.service.Submit(c.Request.Context(), judge.SubmitRequest{
		Code:      req.Code,
		ProblemID: req.ProblemID,
		UserID:    req.UserID,
	})
	if err != nil {
		var verr *judge.ValidationError
		if errors.As(err, &verr) {
			c.JSON(http.StatusBadRequest, errorResponse{Error: verr.Error(), Field: verr.Field})
			return
		}
		h.logger.Error().Err(err).Msg("failed to accept submission")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to accept submission"})
		return
	}

	c.JSON(http.StatusAccepted, sub)
}

func (h *Handler) Get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid submission id", Field: "id"})
		return
	}

	sub, err := h.service.GetSubmission(c.Request.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResponse{Error: "submission not found"})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Int64("submission_id", id).Msg("failed to load submission")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to load submission"})
		return
	}

	c.JSON(http.StatusOK, sub)
}

func (h *Handler) List(c *gin.Context) {
	filter, field, ok := parseFilter(c)
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid " + field, Field: field})
		return
	}

	subs, err := h.service.ListSubmissions(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list submissions")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to list submissions"})
		return
	}

	c.JSON(http.StatusOK, subs)
}

func parseFilter(c *gin.Context) (model.SubmissionFilter, string, bool) {
	filter := model.SubmissionFilter{Limit: defaultListLimit}

	for _, p := range []struct {
		name string
		dst  *int64
	}{
		{"user_id", &filter.UserID},
		{"problem_id", &filter.ProblemID},
	} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v <= 0 {
			return filter, p.name, false
		}
		*p.dst = v
	}

	if raw := c.Query("status"); raw != "" {
		status, ok := model.ParseStatus(raw)
		if !ok {
			return filter, "status", false
		}
		filter.Status = status
	}

	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return filter, "limit", false
		}
		filter.Limit = min(v, maxListLimit)
	}

	return filter, "", true
}
