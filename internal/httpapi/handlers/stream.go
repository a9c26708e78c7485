package handlers

import (
	"context"
	"errors"
	"log"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

// close reasons are limited to 123 bytes by the protocol
const maxCloseReason = 120

// closeReason trims s to fit a close frame without splitting a rune.
func closeReason(s string) string {
	if len(s) <= maxCloseReason {
		return s
	}
	i := maxCloseReason
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i]
}

// ResponseStream accepts incremental edits to one response over a websocket.
// Each text frame is a JSON update message. A malformed message or an
// unknown field closes the connection with a protocol error.
func (h *Handler) ResponseStream(kind models.Kind) gin.HandlerFunc {
	return func(c *gin.Context) {
		version, ok := schemaVersion(c)
		if !ok {
			return
		}
		name := projectParam(c)
		st, err := h.Prompts.OpenStream(c.Request.Context(), name, kind, c.Param("id"))
		if err != nil {
			h.fail(c, err)
			return
		}

		conn, err := websocket.Accept(newUpgradeWriter(c.Writer), c.Request, &websocket.AcceptOptions{
			// CORS is open for the API
			InsecureSkipVerify: true,
		})
		if err != nil {
			log.Printf("ws accept failed response=%s err=%v", st.ResponseID(), err)
			return
		}
		defer conn.CloseNow()

		log.Printf("ws stream opened project=%s response=%s", name, st.ResponseID())
		defer func() {
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := st.Close(fctx); err != nil {
				log.Printf("ws stream final flush failed response=%s err=%v", st.ResponseID(), err)
			}
			log.Printf("ws stream closed project=%s response=%s", name, st.ResponseID())
		}()

		ctx, cancel := context.WithCancel(c.Request.Context())
		defer cancel()

		frames := make(chan []byte)
		readErr := make(chan error, 1)
		go func() {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					readErr <- err
					return
				}
				select {
				case frames <- data:
				case <-ctx.Done():
					return
				}
			}
		}()

		interval := h.Cfg.StreamFlushInterval
		if interval <= 0 {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case data := <-frames:
				msg, err := schema.DecodeWSMessage(data, schema.Input, version)
				if err != nil {
					conn.Close(websocket.StatusProtocolError, closeReason(err.Error()))
					return
				}
				if _, err := st.Apply(ctx, msg); err != nil {
					if errors.Is(err, prompts.ErrUnknownKey) ||
						errors.Is(err, prompts.ErrNotAppendable) ||
						errors.Is(err, prompts.ErrInvalidValue) {
						conn.Close(websocket.StatusProtocolError, closeReason(err.Error()))
						return
					}
					log.Printf("ws apply failed response=%s err=%v", st.ResponseID(), err)
					conn.Close(websocket.StatusInternalError, "internal error")
					return
				}

			case <-ticker.C:
				if err := st.Flush(ctx); err != nil {
					if errors.Is(err, prompts.ErrNotFound) {
						conn.Close(websocket.StatusPolicyViolation, "response was deleted")
						return
					}
					log.Printf("ws flush failed response=%s err=%v", st.ResponseID(), err)
				}

			case err := <-readErr:
				status := websocket.CloseStatus(err)
				if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
					log.Printf("ws read ended response=%s status=%d err=%v", st.ResponseID(), status, err)
				}
				return
			}
		}
	}
}
