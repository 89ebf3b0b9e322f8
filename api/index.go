package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arnavshah/bunk-planner-go/internal/app"
	"github.com/arnavshah/bunk-planner-go/internal/config"
	"github.com/arnavshah/bunk-planner-go/internal/logging"
)

var r http.Handler

func init() {
	// .env is only present under vercel dev
	config.LoadDotEnv()

	cfg, err := config.Parse()
	if err != nil {
		r = unavailable(err)
		return
	}
	logger, err := logging.New(cfg.LogLevel, "json", "bunk-planner")
	if err != nil {
		logger = zap.NewNop()
	}
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("could not initialize service", zap.Error(err))
		r = unavailable(err)
		return
	}
	r = a.Router
}

func unavailable(err error) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service unavailable: " + err.Error(), "code": "INTERNAL"})
	})
	return e
}

// Handler is the entry point for Vercel Go Runtime
func Handler(w http.ResponseWriter, r_req *http.Request) {
	r.ServeHTTP(w, r_req)
}
