package partyline

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
)

const (
	xRequestIDHeader = "X-Request-ID"

	apiHealthCheck     = "/healthz"
	apiPathConnections = "/connections"
	apiPathConnection  = "/connections/:identity"
	apiPathChatter     = "/chatters/:identity"
	apiPathBroadcast   = "/broadcast"
	apiPathStatus      = "/status"
	apiPathQuit        = "/quit"
)

// API is the operator surface: a small authenticated HTTP server for
// process control. It only consumes the registry, the router and the
// connection set; all chat-facing logic stays in the core components.
type API struct {
	config     *APIConfig
	httpServer *http.Server
	engine     *gin.Engine
	logger     *slog.Logger
	pl         *Partyline
}

func newAPI(pl *Partyline, config *APIConfig) *API {
	logger := namedLogger("api", config.LogLevel)

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	a := &API{
		config: config,
		engine: engine,
		logger: logger,
		pl:     pl,
	}

	engine.Use(a.requestIDMiddleware(), a.logMiddleware(), gin.Recovery())
	engine.GET(apiHealthCheck, a.getHealthCheck)

	authorized := engine.Group("/", a.requireToken())
	authorized.POST(apiPathConnections, a.postConnection)
	authorized.DELETE(apiPathConnection, a.deleteConnection)
	authorized.DELETE(apiPathChatter, a.deleteChatter)
	authorized.POST(apiPathBroadcast, a.postBroadcast)
	authorized.GET(apiPathStatus, a.getStatus)
	authorized.POST(apiPathQuit, a.postQuit)

	a.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           engine,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	return a
}

// Serve runs the HTTP server until the context is cancelled.
func (a *API) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("operator api listening", "listen", a.config.Listen)
		errCh <- a.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), 5*time.Second,
		)
		defer cancel()
		return a.httpServer.Shutdown(shutdownCtx)
	}
}

func (a *API) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(xRequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(xRequestIDHeader, requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

func (a *API) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Info(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start),
			"request_id", c.GetString("request_id"),
		)
	}
}

// requireToken rejects any request whose bearer token doesn't match the
// configured operator token.
func (a *API) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if a.config.Token == "" || subtle.ConstantTimeCompare(
			[]byte(token), []byte(a.config.Token),
		) != 1 {
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				gin.H{"error": "unauthorized"},
			)
			return
		}
		c.Next()
	}
}

func (a *API) getHealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": Version})
}

func (a *API) postConnection(c *gin.Context) {
	var creds ConnectionCredentials
	if err := c.ShouldBindJSON(&creds); err != nil ||
		creds.Identity == "" || creds.Credential == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity and credential required"})
		return
	}
	if err := a.pl.AddConnection(creds); err != nil {
		a.logger.Error("error adding connection", tint.Err(err))
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"identity": creds.Identity})
}

func (a *API) deleteConnection(c *gin.Context) {
	identity := c.Param("identity")
	if err := a.pl.RemoveConnection(identity); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity})
}

func (a *API) deleteChatter(c *gin.Context) {
	identity := c.Param("identity")
	if err := a.pl.RemoveChatter(identity); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"identity": identity})
}

func (a *API) postBroadcast(c *gin.Context) {
	var body struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}
	a.pl.GlobalBroadcast(body.Message)
	c.JSON(http.StatusOK, gin.H{"sent": true})
}

func (a *API) getStatus(c *gin.Context) {
	c.JSON(
		http.StatusOK, gin.H{
			"connections": a.pl.ConnectionStates(),
			"chatters":    a.pl.registry.Len(),
		},
	)
}

func (a *API) postQuit(c *gin.Context) {
	a.logger.Warn("shutdown requested via api")
	a.pl.Stop()
	c.JSON(http.StatusAccepted, gin.H{"stopping": true})
}
