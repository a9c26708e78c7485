package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

func (h *Handler) ListResponses(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		skip, limit, ok := pageParams(c)
		if !ok {
			return
		}
		list, err := h.Prompts.ListResponses(c.Request.Context(), projectParam(c), kind, skip, limit)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, list)
	}
}

func (h *Handler) GetResponse(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		r, err := h.Prompts.GetResponse(c.Request.Context(), projectParam(c), kind, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, r)
	}
}

func (h *Handler) decodeResponse(c *gin.Context) *models.Response {
	version, ok := schemaVersion(c)
	if !ok {
		return nil
	}
	raw, err := c.GetRawData()
	if err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "cannot read body")
		return nil
	}
	r, err := schema.DecodeResponse(raw, schema.Input, version)
	if err != nil {
		h.fail(c, err)
		return nil
	}
	return r
}

func (h *Handler) CreateResponse(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := h.decodeResponse(c)
		if in == nil {
			return
		}
		r, err := h.Prompts.CreateResponse(c.Request.Context(), projectParam(c), kind, in)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, r)
	}
}

func (h *Handler) UpdateResponse(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		in := h.decodeResponse(c)
		if in == nil {
			return
		}
		r, err := h.Prompts.UpdateResponse(c.Request.Context(), projectParam(c), kind, c.Param("id"), in)
		if err != nil {
			h.fail(c, err)
			return
		}
		common.OK(c, r)
	}
}

func (h *Handler) DeleteResponse(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := h.Prompts.DeleteResponse(c.Request.Context(), projectParam(c), kind, c.Param("id")); err != nil {
			h.fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
