package internal

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

const adminTokenHeader = "X-Admin-Token"

// httpDeps agrupa los componentes que exponen los handlers.
type httpDeps struct {
	Queue      *CommandQueue
	Registry   *LivenessRegistry
	Dispatcher *Dispatcher
	Copier     *CopyManager
	History    *HistoryRecorder
	Limiter    *pollLimiter
	Metrics    *Metrics
	Telemetry  *telemetry.Client
}

// HTTPServer expone el API de agentes (/{token}/api/...) y el de administración (/api/...).
type HTTPServer struct {
	cfg    HTTPConfig
	auth   AuthConfig
	deps   httpDeps
	engine *gin.Engine
	server *http.Server
	clock  utils.Clock

	startedAt time.Time
}

// NewHTTPServer construye el router. No abre el listener.
func NewHTTPServer(cfg HTTPConfig, auth AuthConfig, deps httpDeps) *HTTPServer {
	s := &HTTPServer{
		cfg:   cfg,
		auth:  auth,
		deps:  deps,
		clock: utils.SystemClock,
	}
	s.startedAt = s.clock().UTC()

	r := gin.New()
	r.Use(gin.CustomRecovery(s.recoverPanic))
	r.Use(s.requestLogger())
	r.Use(s.requestMetrics())
	s.engine = r
	s.registerRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler retorna el router (tests con httptest).
func (s *HTTPServer) Handler() http.Handler {
	return s.engine
}

func (s *HTTPServer) registerRoutes() {
	r := s.engine
	r.GET("/healthz", s.handleHealthz)
	r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))

	admin := r.Group("/api", s.adminAuth())
	admin.GET("/commands/status/all", s.handleQueueStatusAll)
	admin.GET("/commands/:account/status", s.handleQueueStatus)
	admin.POST("/commands/:account/clear", s.handleQueueClear)

	admin.GET("/accounts", s.handleListAccounts)
	admin.POST("/accounts", s.handleAddAccount)
	admin.GET("/accounts/:account", s.handleGetAccount)
	admin.DELETE("/accounts/:account", s.handleRemoveAccount)
	admin.POST("/accounts/:account/pause", s.handleSetAccountStatus(domain.AccountStatusPaused))
	admin.POST("/accounts/:account/resume", s.handleSetAccountStatus(domain.AccountStatusActive))

	admin.GET("/pairs", s.handleListPairs)
	admin.POST("/pairs", s.handleAddPair)
	admin.DELETE("/pairs/:id", s.handleRemovePair)
	admin.POST("/pairs/:id/enable", s.handleSetPairEnabled(true))
	admin.POST("/pairs/:id/disable", s.handleSetPairEnabled(false))

	admin.GET("/history", s.handleHistory)
	admin.POST("/copy/signal", s.handleCopySignal)

	agent := r.Group("/:token/api", s.tokenAuth())
	agent.POST("/ea/heartbeat", s.handleHeartbeat)
	agent.GET("/ea/get_signals", s.handleGetSignals)
	agent.POST("/ea/get_signals", s.handleGetSignals)
	agent.POST("/ea/confirm_execution", s.handleConfirmExecution)
	agent.POST("/ea/register", s.handleRegister)
	agent.GET("/ea/status", s.handleEAStatus)
	agent.GET("/commands/:account", s.handlePollCommands)
	agent.POST("/commands/:account/ack", s.handleAckCommand)
	agent.POST("/copy/signal", s.handleCopySignal)
}

// Serve bloquea atendiendo requests hasta que ctx se cancele; entonces hace shutdown ordenado.
func (s *HTTPServer) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	s.deps.Telemetry.Info(ctx, "HTTP server listening",
		semconv.Bridge.Component.String(semconv.ComponentValues.HTTP),
		attribute.String("address", listener.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}

// ---- Middleware ----

func (s *HTTPServer) recoverPanic(c *gin.Context, recovered any) {
	err := fmt.Errorf("handler panic: %v", recovered)
	s.deps.Telemetry.Error(c.Request.Context(), "HTTP handler panic", err,
		semconv.HTTP.Path.String(routePath(c)),
	)
	writeError(c, domain.NewError(domain.ErrInternal, "internal server error"))
	c.Abort()
}

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []attribute.KeyValue{
			semconv.HTTP.Method.String(c.Request.Method),
			semconv.HTTP.Path.String(routePath(c)),
			semconv.HTTP.StatusCode.Int(status),
			semconv.HTTP.DurationMs.Int64(time.Since(start).Milliseconds()),
			semconv.HTTP.ClientIP.String(c.ClientIP()),
			semconv.HTTP.Bytes.Int(c.Writer.Size()),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, semconv.HTTP.Error.String(c.Errors.String()))
		}

		ctx := c.Request.Context()
		switch {
		case status >= 500:
			s.deps.Telemetry.Error(ctx, "http_request", nil, attrs...)
		case status >= 400:
			s.deps.Telemetry.Warn(ctx, "http_request", attrs...)
		default:
			s.deps.Telemetry.Debug(ctx, "http_request", attrs...)
		}
	}
}

func (s *HTTPServer) requestMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.deps.Metrics.RecordHTTPRequest(c.Request.Method, routePath(c), c.Writer.Status(), time.Since(start))
	}
}

// tokenAuth valida el token de ruta contra auth.tokens. Lista vacía acepta cualquier token.
func (s *HTTPServer) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Param("token")
		if token == "" || (len(s.auth.Tokens) > 0 && !slices.Contains(s.auth.Tokens, token)) {
			writeError(c, domain.NewError(domain.ErrUnauthorized, "invalid token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// adminAuth exige X-Admin-Token cuando auth.admin_token está configurado.
func (s *HTTPServer) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.auth.AdminToken == "" {
			c.Next()
			return
		}
		provided := c.GetHeader(adminTokenHeader)
		if subtle.ConstantTimeCompare([]byte(provided), []byte(s.auth.AdminToken)) != 1 {
			writeError(c, domain.NewError(domain.ErrUnauthorized, "invalid admin token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// routePath retorna el template de la ruta para no explotar la cardinalidad de métricas.
func routePath(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

// ---- Respuestas ----

// statusForCode mapea un código de dominio a su status HTTP.
func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrUnknownAccount, domain.ErrUnknownCommand, domain.ErrUnknownPair:
		return http.StatusNotFound
	case domain.ErrAccountOffline, domain.ErrAccountPaused, domain.ErrAccountNotActivated:
		return http.StatusConflict
	case domain.ErrInvalidAccount, domain.ErrInvalidPayload:
		return http.StatusBadRequest
	case domain.ErrUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrRateLimited:
		return http.StatusTooManyRequests
	case domain.ErrQueueFull:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := domain.CodeOf(err)
	message := errorMessage(err)
	if code == domain.ErrInternal {
		_ = c.Error(err)
		message = "internal server error"
	}
	c.JSON(statusForCode(code), gin.H{
		"success": false,
		"code":    code,
		"error":   message,
	})
}
