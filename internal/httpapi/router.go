package httpapi

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/suPer8Hu/lovely-prompts/internal/common"
	"github.com/suPer8Hu/lovely-prompts/internal/config"
	"github.com/suPer8Hu/lovely-prompts/internal/events"
	"github.com/suPer8Hu/lovely-prompts/internal/httpapi/handlers"
	"github.com/suPer8Hu/lovely-prompts/internal/httpapi/middleware"
	"github.com/suPer8Hu/lovely-prompts/internal/models"
	"github.com/suPer8Hu/lovely-prompts/internal/project"
	"github.com/suPer8Hu/lovely-prompts/internal/prompts"
	"github.com/suPer8Hu/lovely-prompts/internal/schema"
)

func NewRouter(cfg config.Config, projects *project.Manager, svc *prompts.Service, hub *events.Hub) *gin.Engine {
	return newRouter(cfg, handlers.NewHandler(cfg, projects, svc, hub))
}

// schemaVersionHeader stamps every response with the revision it is written in.
func schemaVersionHeader() gin.HandlerFunc {
	version := strconv.Itoa(schema.CurrentVersion)
	return func(c *gin.Context) {
		c.Header(handlers.SchemaVersionHeader, version)
		c.Next()
	}
}

func newRouter(cfg config.Config, h *handlers.Handler) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Accept",
			"Authorization",
			middleware.RequestIDHeader,
			handlers.SchemaVersionHeader,
		},
		ExposeHeaders: []string{"Content-Length", middleware.RequestIDHeader, handlers.SchemaVersionHeader},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(schemaVersionHeader())
	if cfg.LogBodies {
		r.Use(middleware.BodyLogger())
	}

	r.NoRoute(noRoute(cfg.WebappDir))
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// read side, used by the webapp
	r.GET("/projects/", h.ListProjects)
	r.GET("/updates/", h.Updates)

	// write side, used by API clients
	api := r.Group("/")
	if cfg.AuthRequired {
		api.Use(middleware.AuthRequired(cfg.JWTSecret))
	}

	for _, k := range []struct {
		kind   models.Kind
		prefix string
	}{
		{models.KindChat, "chat"},
		{models.KindCompletion, "completion"},
	} {
		promptsPath := "/" + k.prefix + "_prompts"
		r.GET(promptsPath+"/", h.ListPrompts(k.kind))
		r.GET(promptsPath+"/:id", h.GetPrompt(k.kind))
		api.POST(promptsPath+"/", h.CreatePrompt(k.kind))
		api.PUT(promptsPath+"/:id", h.UpdatePrompt(k.kind))
		api.DELETE(promptsPath+"/:id", h.DeletePrompt(k.kind))

		responsesPath := "/" + k.prefix + "_responses"
		r.GET(responsesPath+"/", h.ListResponses(k.kind))
		r.GET(responsesPath+"/:id", h.GetResponse(k.kind))
		api.POST(responsesPath+"/", h.CreateResponse(k.kind))
		api.PUT(responsesPath+"/:id", h.UpdateResponse(k.kind))
		api.DELETE(responsesPath+"/:id", h.DeleteResponse(k.kind))
		api.GET(responsesPath+"/:id/update_stream/", h.ResponseStream(k.kind))
	}
	return r
}

// noRoute serves the webapp for unknown GET paths when one is configured,
// falling back to index.html for client-side routes.
func noRoute(webappDir string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if webappDir == "" || (c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead) {
			common.Fail(c, http.StatusNotFound, 40400, "route not found")
			return
		}
		// Clean on a rooted path cannot climb above webappDir
		p := filepath.Join(webappDir, filepath.FromSlash(path.Clean("/"+c.Request.URL.Path)))
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			c.File(p)
			return
		}
		index := filepath.Join(webappDir, "index.html")
		if _, err := os.Stat(index); err != nil {
			common.Fail(c, http.StatusNotFound, 40400, "route not found")
			return
		}
		c.File(index)
	}
}
