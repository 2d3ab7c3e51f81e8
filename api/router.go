// Package api contains all endpoints available
package api

import (
	"contacts-api/db"
	"contacts-api/middleware"
	"contacts-api/security"
	"contacts-api/service"
	"contacts-api/storage"
	"fmt"
	"time"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	ginzap "github.com/gin-contrib/zap"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

const (
	gray  = "\x1b[90m"
	reset = "\x1b[0m"
)

var store = persist.NewMemoryStore(time.Minute)

type API struct {
	DB      *gorm.DB
	Router  *gin.Engine
	Argon   *security.ArgonHash
	Tokens  *security.TokenService
	Ledger  *service.RevocationLedger
	Mailer  service.Mailer
	Avatars *service.AvatarPipeline
	Store   storage.Storage
}

// NewRouter wires the production dependencies. Tests use
// NewRouterWith directly to inject their own.
func NewRouter() (*API, error) {
	makeLogger()

	database, err := db.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite database, %w", err)
	}

	st, err := storage.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize avatar storage, %w", err)
	}

	a, err := NewRouterWith(database, st, service.NewSMTPMailer())
	if err != nil {
		return nil, err
	}

	a.Ledger.StartCleanup(time.Hour)
	return a, nil
}

func NewRouterWith(database *gorm.DB, st storage.Storage, mailer service.Mailer) (*API, error) {
	a := &API{
		DB:     database,
		Argon:  security.NewArgon(),
		Tokens: security.NewTokenService(viper.GetString("jwt.secret")),
		Ledger: service.NewRevocationLedger(database),
		Mailer: mailer,
		Store:  st,
	}

	pipeline, err := service.NewAvatarPipeline(database, st, viper.GetString("storage.tmp_dir"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize avatar pipeline, %w", err)
	}
	a.Avatars = pipeline

	router := gin.New()
	a.Router = router

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     []string{"http://localhost:3000"},
			AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				if v := c.GetString("userID"); v != "" {
					fields = append(fields, zap.String("userID", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true
	a.Router.MaxMultipartMemory = 5 << 20

	auth := middleware.NewAuthMiddleware(database, a.Tokens, a.Ledger)
	limit := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: 5,
		Burst:             20,
	})
	maxUploadSize := viper.GetInt64("upload.max_size")

	// POST /signup		-> Registers a new account
	router.POST("/signup", middleware.BodySizeLimiter(1<<20), limit, a.UserSignup)

	// POST /login		-> Logs in an account and returns a session token
	router.POST("/login", middleware.BodySizeLimiter(1<<20), limit, a.UserLogin)

	// GET /logout		-> Revokes the presented session token
	router.GET("/logout", auth, a.UserLogout)

	// GET /current		-> Returns the authenticated account
	router.GET("/current", auth, a.UserCurrent)

	// GET /verify/:token	-> Verifies an account from a mailed link
	router.GET("/verify/:token", a.UserVerify)

	// POST /verify		-> Re-sends the verification mail
	router.POST("/verify", middleware.BodySizeLimiter(1<<20), limit, a.UserVerifyResend)

	// PATCH /avatars	-> Ingests a new avatar for the account
	router.PATCH("/avatars", auth, middleware.BodySizeLimiter(maxUploadSize), a.AvatarUpload)

	// GET /avatars/:name	-> Serves a stored avatar
	router.GET("/avatars/:name", cacheFor(60), a.AvatarServe)

	// HEAD /heartbeat	-> Used to check if the server is alive
	router.HEAD("/heartbeat", a.Heartbeat)

	return a, nil
}

func makeLogger() {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncoderConfig.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + t.Format("15:04:05.000") + reset)
	}
	cfg.EncoderConfig.EncodeCaller = func(ec zapcore.EntryCaller, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(gray + ec.TrimmedPath() + reset)
	}

	cfg.DisableStacktrace = true

	log, _ := cfg.Build()
	zap.ReplaceGlobals(log)
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(store, time.Second*time.Duration(sec))
}
