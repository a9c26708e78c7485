package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/config"
	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/httpapi/middleware"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

const SchemaVersionHeader = "X-Schema-Version"

type Handler struct {
	Cfg      config.Config
	Projects *project.Manager
	Prompts  *prompts.Service
	Hub      *events.Hub

	// PingInterval is the SSE heartbeat period.
	PingInterval time.Duration
}

func NewHandler(cfg config.Config, projects *project.Manager, svc *prompts.Service, hub *events.Hub) *Handler {
	return &Handler{
		Cfg:          cfg,
		Projects:     projects,
		Prompts:      svc,
		Hub:          hub,
		PingInterval: 15 * time.Second,
	}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

func projectParam(c *gin.Context) string {
	if p := c.Query("project"); p != "" {
		return p
	}
	return project.Default
}

func pageParams(c *gin.Context) (skip, limit int, ok bool) {
	var err error
	if v := c.Query("skip"); v != "" {
		if skip, err = strconv.Atoi(v); err != nil || skip < 0 {
			common.Fail(c, http.StatusBadRequest, 10004, "skip must be a non-negative integer")
			return 0, 0, false
		}
	}
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			common.Fail(c, http.StatusBadRequest, 10005, "limit must be a positive integer")
			return 0, 0, false
		}
	}
	return skip, limit, true
}

// schemaVersion reads the revision a client writes against. Browsers cannot
// set headers on websocket requests, so a query parameter works too.
func schemaVersion(c *gin.Context) (int, bool) {
	v := c.GetHeader(SchemaVersionHeader)
	if v == "" {
		v = c.Query("schema_version")
	}
	if v == "" {
		return schema.CurrentVersion, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > schema.CurrentVersion {
		common.Fail(c, http.StatusBadRequest, 10006, "unsupported schema version "+strconv.Quote(v))
		return 0, false
	}
	return n, true
}

// fail maps service errors to the response envelope.
func (h *Handler) fail(c *gin.Context, err error) {
	var fe *schema.FieldError
	switch {
	case errors.As(err, &fe):
		common.FailWith(c, http.StatusUnprocessableEntity, 42201, fe.Error(), fe)
	case errors.Is(err, project.ErrInvalidName):
		common.Fail(c, http.StatusBadRequest, 10007, err.Error())
	case errors.Is(err, prompts.ErrKindMismatch):
		common.Fail(c, http.StatusBadRequest, 10008, err.Error())
	case errors.Is(err, project.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40401, err.Error())
	case errors.Is(err, prompts.ErrPromptNotFound):
		common.Fail(c, http.StatusNotFound, 40402, err.Error())
	case errors.Is(err, prompts.ErrNotFound):
		common.Fail(c, http.StatusNotFound, 40403, "record not found")
	default:
		log.Printf("request failed request_id=%s method=%s path=%s err=%v",
			c.GetString(middleware.RequestIDKey), c.Request.Method, c.Request.URL.Path, err)
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

func (h *Handler) ListProjects(c *gin.Context) {
	names, err := h.Projects.List()
	if err != nil {
		h.fail(c, err)
		return
	}
	common.OK(c, names)
}
