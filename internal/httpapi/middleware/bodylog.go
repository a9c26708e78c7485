package middleware

import (
	"bytes"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const maxLoggedBody = 4 << 10

type bodyWriter struct {
	gin.ResponseWriter
	buf bytes.Buffer
}

func (w *bodyWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - w.buf.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		w.buf.Write(b[:room])
	}
	return w.ResponseWriter.Write(b)
}

// BodyLogger logs request and response bodies of mutating API calls,
// truncated. Reads and streaming endpoints are skipped.
func BodyLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.IsWebsocket() || strings.HasPrefix(c.Request.URL.Path, "/updates") {
			c.Next()
			return
		}

		var reqBody []byte
		if c.Request.Body != nil {
			b, err := io.ReadAll(c.Request.Body)
			if err == nil {
				reqBody = b
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(b))
		}

		bw := &bodyWriter{ResponseWriter: c.Writer}
		c.Writer = bw
		c.Next()

		log.Printf("body request_id=%s method=%s path=%s status=%d req=%s resp=%s",
			c.GetString(RequestIDKey), c.Request.Method, c.Request.URL.Path, c.Writer.Status(),
			truncate(reqBody), truncate(bw.buf.Bytes()))
	}
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "...(truncated)"
	}
	return string(b)
}
