package middleware

import (
	"fmt"
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
)

// Recovery turns a panic into a 500 envelope and logs the stack.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Printf("panic recovered request_id=%s path=%s err=%v\n%s",
					c.GetString(RequestIDKey), c.Request.URL.Path, err, debug.Stack())

				msg := "internal server error"
				if gin.IsDebugging() {
					msg = fmt.Sprintf("internal server error: %v", err)
				}
				common.Fail(c, http.StatusInternalServerError, 50000, msg)
				c.Abort()
			}
		}()
		c.Next()
	}
}
