package main

import (
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"
	"tourbook/src/boot"
	"tourbook/src/config"
	"tourbook/src/lib"
	"tourbook/src/lib/metrics"
	"tourbook/src/middlewares"
	"tourbook/src/utils"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const apiPrefix = "/api/v1"

// bookableDateValidatorFunc accepts YYYY-MM-DD dates that are today or
// later in the tour timezone.
var bookableDateValidatorFunc validator.Func = func(fl validator.FieldLevel) bool {
	date, ok := fl.Field().Interface().(string)
	if !ok {
		return false
	}
	return utils.IsBookableDate(date, time.Now(), config.GetTourLocation())
}

func registerValidators() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterValidation("bookabledate", bookableDateValidatorFunc)
	}
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.Use(metrics.Middleware)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		on, err := strconv.ParseBool(os.Getenv("MAINTENANCE_MODE"))
		if err == nil && on {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

func publicRoutes(g *gin.Engine, svc *boot.Services) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	availabilityHandlers(apiv1, svc)
	cartHandlers(apiv1, svc)
	apiv1.GET("/payments/providers", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"data": svc.Gateway.Providers()})
	})
	return apiv1
}

func authorizedRoutes(g *gin.Engine, svc *boot.Services) *gin.RouterGroup {
	authorized := g.Group(apiPrefix)
	authorized.Use(middlewares.AuthMiddleware)
	{
		bookingHandlers(authorized, svc)
		paymentHandlers(authorized, svc)
		orderHandlers(authorized, svc)
	}
	return authorized
}

// registerRoutes mounts every API route on router.
func registerRoutes(router *gin.Engine, svc *boot.Services) {
	publicRoutes(router, svc)
	stripeWebhookRoute(router, svc)
	authorizedRoutes(router, svc)
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	if err := os.MkdirAll(path.Dir(apiLogs), 0o755); err != nil {
		log.Printf("Error creating log directory: %s\n", err.Error())
		return
	}
	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func corsMiddleware(apiEnv string) gin.HandlerFunc {
	if apiEnv == "local" {
		return cors.Default()
	}
	appHost := os.Getenv("APP_HOST")
	cc := cors.DefaultConfig()
	cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "PUT", "DELETE", "HEAD")
	cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
	cc.AllowOriginFunc = func(origin string) bool {
		if appHost == "" {
			return false
		}
		match, _ := regexp.MatchString(appHost, origin)
		return match
	}
	cc.AllowCredentials = true
	cc.AllowAllOrigins = false
	return cors.New(cc)
}

func main() {
	apiEnv := os.Getenv("API_ENV")
	if apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
	}
	initLogger()

	gdb := boot.InitDb()
	svc := boot.InitServices(gdb)
	boot.InitScheduler(svc)
	defer boot.StopScheduler()
	defer lib.KafkaClose()

	router := setupRouter()
	router.Use(corsMiddleware(apiEnv))
	registerValidators()
	router = maintenanceModeMiddleware(router)
	registerRoutes(router, svc)

	if err := router.Run(":" + config.GetPort()); err != nil {
		log.Fatalf("Failed to start server: %s", err)
	}
}
