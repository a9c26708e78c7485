package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

func (h *Handler) ListPrompts(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		skip, limit, ok := pageParams(c)
		if !ok {
			return
		}
		list, err := h.Prompts.ListPrompts(c.Request.Context(), projectParam(c), kind, skip, limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, list)
	}
}

func (h *Handler) GetPrompt(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := h.Prompts.GetPrompt(c.Request.Context(), projectParam(c), kind, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, p)
	}
}

// decodePrompt reads a client prompt payload. It writes the error response
// itself and returns nil on failure.
func (h *Handler) decodePrompt(c *gin.Context) *models.Prompt {
	version, ok := schemaVersion(c)
	if !ok {
		return nil
	}
	raw, err := c.GetRawData()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "cannot read body")
		return nil
	}
	p, err := schema.DecodePrompt(raw, schema.Input, version)
	if err != nil {
		h.fail(c, err)
		return nil
	}
	return p
}

func (h *Handler) CreatePrompt(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := h.decodePrompt(c)
		if in == nil {
			return
		}
		p, err := h.Prompts.CreatePrompt(c.Request.Context(), projectParam(c), kind, in)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, p)
	}
}

func (h *Handler) UpdatePrompt(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := h.decodePrompt(c)
		if in == nil {
			return
		}
		p, err := h.Prompts.UpdatePrompt(c.Request.Context(), projectParam(c), kind, c.Param("id"), in)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, p)
	}
}

func (h *Handler) DeletePrompt(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.Prompts.DeletePrompt(c.Request.Context(), projectParam(c), kind, c.Param("id")); err != nil {
			h.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
