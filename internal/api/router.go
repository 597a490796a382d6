package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"

	"coalition/builder/internal/api/handlers"
	"coalition/builder/internal/api/middleware"
	"coalition/builder/internal/classifier"
	"coalition/builder/internal/config"
	"coalition/builder/internal/services"
)

// Deps carries the externally-constructed dependencies the router wires up.
type Deps struct {
	DB         *mongo.Database
	RateLimit  services.IRateLimitService
	Dispatcher services.IDispatcher
}

// SetupRouter configures and returns the main Gin engine.
func SetupRouter(cfg *config.Config, deps Deps) *gin.Engine {
	stakeholderService := services.NewStakeholderService(deps.DB, deps.Dispatcher)
	campaignService := services.NewCampaignService(deps.DB)
	endorsementService := services.NewEndorsementService(deps.DB, deps.Dispatcher, stakeholderService)
	tokenService := services.NewTokenService(deps.DB, cfg, campaignService, stakeholderService, deps.Dispatcher)
	contentClassifier := classifier.NewHTTPClassifier(cfg)
	spamService := services.NewSpamService(cfg, contentClassifier)

	r := gin.Default()

	// Forwarded headers are handled by ClientIdentity with its own trust
	// check; gin's own resolution is not used for rate limiting.
	_ = r.SetTrustedProxies(nil)

	burstGuard := middleware.NewBurstGuardMiddleware(cfg)
	r.Use(middleware.CORSMiddleware())
	r.Use(burstGuard.Limit())

	endorsementHandler := handlers.NewEndorsementHandler(
		cfg, deps.RateLimit, spamService, stakeholderService, endorsementService, tokenService, campaignService)

	v1 := r.Group("/v1")
	{
		// Public routes
		v1.POST("/endorsements", endorsementHandler.Submit)
		v1.POST("/endorsements/verify/:token", endorsementHandler.Verify)
		v1.POST("/endorsements/resend-verification", endorsementHandler.Resend)
		v1.GET("/endorsements", endorsementHandler.ListPublic)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		// Staff routes
		staff := v1.Group("/endorsements")
		staff.Use(middleware.StaffAuthMiddleware(cfg.JwtSecret))
		{
			staff.GET("/admin/pending", endorsementHandler.ListPending)
			staff.POST("/admin/approve/:id", endorsementHandler.Approve)
			staff.POST("/admin/reject/:id", endorsementHandler.Reject)
			staff.GET("/export/csv", endorsementHandler.ExportCSV)
			staff.GET("/export/json", endorsementHandler.ExportJSON)
		}
	}

	return r
}
