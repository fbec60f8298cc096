package ginserver

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"inquirydesk/internal/infra/obs"
)

// DeskHTTP is the daemon view API consumed by the UI.
type DeskHTTP interface {
	Login(c *gin.Context)
	Logout(c *gin.Context)
	Me(c *gin.Context)
	Connection(c *gin.Context)
	Mount(c *gin.Context)
	Snapshot(c *gin.Context)
	Unmount(c *gin.Context)
	Refresh(c *gin.Context)
	Start(c *gin.Context)
	Send(c *gin.Context)
	Open(c *gin.Context)
	Close(c *gin.Context)
	MarkRead(c *gin.Context)
	Delete(c *gin.Context)
	Transcript(c *gin.Context)
	PublishTranscript(c *gin.Context)
	Events(c *gin.Context)
}

// BackendHTTP is the inquiry REST surface served by the devserver.
type BackendHTTP interface {
	Login(c *gin.Context)
	Me(c *gin.Context)
	Between(c *gin.Context)
	Conversation(c *gin.Context)
	List(c *gin.Context)
	Create(c *gin.Context)
	Reply(c *gin.Context)
	MarkRead(c *gin.Context)
	MarkResponded(c *gin.Context)
	Delete(c *gin.Context)
}

type ServerOptions struct {
	Addr           string
	Env            string
	AllowedOrigins []string
}

func NewDeskServer(opts ServerOptions, obsMW obs.Middleware, health obs.HealthHandlers, h DeskHTTP) *http.Server {
	router := newRouter(opts, obsMW, health)
	api := router.Group("/api/v1")
	api.GET("/session", h.Me)
	api.POST("/session", h.Login)
	api.DELETE("/session", h.Logout)
	api.GET("/connection", h.Connection)

	api.POST("/views", h.Mount)
	view := api.Group("/views/:view")
	view.GET("", h.Snapshot)
	view.DELETE("", h.Unmount)
	view.GET("/events", h.Events)
	view.POST("/refresh", h.Refresh)
	view.POST("/start", h.Start)
	view.POST("/messages", h.Send)
	view.PUT("/open/:id", h.Open)
	view.DELETE("/open", h.Close)
	view.PUT("/conversations/:id/read", h.MarkRead)
	view.DELETE("/conversations/:id", h.Delete)
	view.GET("/conversations/:id/transcript", h.Transcript)
	view.POST("/conversations/:id/transcript", h.PublishTranscript)

	return &http.Server{Addr: opts.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
}

// NewBackendServer mounts the inquiry REST routes and the socket endpoint.
func NewBackendServer(opts ServerOptions, obsMW obs.Middleware, health obs.HealthHandlers, auth gin.HandlerFunc, h BackendHTTP, socket http.Handler) *http.Server {
	router := newRouter(opts, obsMW, health)
	if auth != nil {
		router.Use(auth)
	}
	router.POST("/auth/login", h.Login)
	router.GET("/auth/me", h.Me)

	inquiries := router.Group("/inquiries")
	inquiries.POST("/", h.Create)
	inquiries.POST("/message", h.Reply)
	inquiries.GET("/conversations/:id", h.Conversation)
	inquiries.GET("/agent/:agent/client/:client/conversation", h.Between)
	for _, role := range []string{"agent", "client"} {
		inquiries.GET("/"+role+"/conversations", withRole(role, h.List))
		inquiries.PUT("/"+role+"/mark-read/:id", withRole(role, h.MarkRead))
	}
	inquiries.PUT("/client/mark-responded/:id", h.MarkResponded)
	inquiries.DELETE("/client/delete-conversation/:id", h.Delete)

	if socket != nil {
		router.GET("/socket", gin.WrapH(socket))
	}
	return &http.Server{Addr: opts.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second}
}

// withRole exposes the fixed role segment of a route as the "role" param.
func withRole(role string, next gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Params = append(c.Params, gin.Param{Key: "role", Value: role})
		next(c)
	}
}

func newRouter(opts ServerOptions, obsMW obs.Middleware, health obs.HealthHandlers) *gin.Engine {
	mode := configureGinMode(opts.Env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.RedirectTrailingSlash = false
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(corsConfig(opts.AllowedOrigins)))

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)
	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", obs.RequestIDHeader},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "Content-Disposition", obs.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
