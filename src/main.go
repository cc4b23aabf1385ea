package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"sync"
	"syscall"
	"ticketing/src/boot"
	"ticketing/src/config"
	"ticketing/src/metrics"
	"ticketing/src/middlewares"
	"ticketing/src/types"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

const apiPrefix = "/api/v1"

var msisdnPattern = regexp.MustCompile(`^\+?[1-9][0-9]{9,14}$`)

var providerValidator validator.Func = func(fl validator.FieldLevel) bool {
	return types.Provider(fl.Field().String()).Valid()
}

var msisdnValidator validator.Func = func(fl validator.FieldLevel) bool {
	return msisdnPattern.MatchString(fl.Field().String())
}

var registerValidators = sync.OnceFunc(func() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("provider", providerValidator)
		v.RegisterValidation("msisdn", msisdnValidator)
	}
})

// respondError writes err as {"error": kind, "message": text, ...details}.
// Errors that are not domain errors are logged and hidden behind a 500.
func respondError(ctx *gin.Context, tag string, err error) {
	if appErr, ok := types.AsAppError(err); ok {
		body := gin.H{}
		for k, v := range appErr.Details {
			body[k] = v
		}
		body["error"] = appErr.Kind
		body["message"] = appErr.Message
		ctx.JSON(appErr.Status, body)
		return
	}
	log.Printf("[%s] Error: %s\n", tag, err.Error())
	ctx.JSON(http.StatusInternalServerError, gin.H{"error": "InternalError", "message": "internal server error"})
}

func setupRouter() *gin.Engine {
	registerValidators()
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}

func maintenanceModeMiddleware(g *gin.Engine, cfg *config.Config) *gin.Engine {
	g.Use(middlewares.MaintenanceMode(func() bool {
		return cfg.MaintenanceMode
	}))
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	return g.Group(apiPrefix)
}

// routes mounts the public, agent and admin surfaces under /api/v1.
func routes(g *gin.Engine, cfg *config.Config) {
	public := apiv1Group(g)
	paymentHandlers(public)

	agents := public.Group("", middlewares.AuthMiddleware([]byte(cfg.JWTSecret)))
	ticketHandlers(agents)

	admins := agents.Group("", middlewares.AdminOnly)
	ticketAdminHandlers(admins)
	paymentAdminHandlers(admins)
	eventHandlers(admins)
	notificationHandlers(admins)
}

func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	if cfg.Env == "local" {
		return cors.Default()
	}
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization", "Stripe-Signature")
	cc.AllowOrigins = []string{cfg.CheckoutHost}
	cc.AllowCredentials = true
	return cors.New(cc)
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	if err := os.MkdirAll(path.Join(cwd, "logs"), 0o755); err == nil {
		if f, err := os.Create(apiLogs); err == nil {
			gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
		}
	}
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	cfg := config.Load()
	initLogger()
	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := boot.Init(ctx, cfg)
	if err != nil {
		log.Fatalf("Error initializing app: %s\n", err.Error())
	}
	defer app.Close()

	router := setupRouter()
	router.Use(corsMiddleware(cfg))
	router = maintenanceModeMiddleware(router, cfg)
	routes(router, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Printf("Listening on %s\n", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error starting server: %s\n", err.Error())
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down server: %s\n", err.Error())
	}
}
