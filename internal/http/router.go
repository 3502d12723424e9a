package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/gridhq/gridauth/internal/config"
	"github.com/gridhq/gridauth/internal/http/handler"
	httpmiddleware "github.com/gridhq/gridauth/internal/http/middleware"
	"github.com/gridhq/gridauth/internal/middleware"
	"github.com/gridhq/gridauth/internal/service"
)

// Version is reported by the banner route.
const Version = "1.0.0"

// Paths that bypass the token gate. The grant, callback, and provider
// endpoints enforce their own identity requirements on top of the anonymous
// forward.
var (
	gateExclude     = []string{"/", "/v1/ping"}
	gateSoftExclude = []string{"/v1/token", "/v1/auth", "/cb", "/v1/auth_provider"}
)

// NewRouter wires Gin routes and middleware.
func NewRouter(cfg config.Config, tokens *service.TokenService, authRequests *service.AuthRequestService, providers *service.ProviderService, tokenHandler *handler.TokenHandler, callbackHandler *handler.CallbackHandler, providerHandler *handler.ProviderHandler, rateLimiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(nil))
	r.Use(middleware.CORS(cfg))
	if rateLimiter != nil {
		r.Use(rateLimiter.Handler())
	}
	r.Use(otelgin.Middleware(cfg.ServiceName))

	loginURL := func(ctx context.Context, state string) (string, error) {
		issued, err := authRequests.Begin(ctx, service.BeginAuthParams{State: state})
		if err != nil {
			return "", err
		}
		gateway, err := providers.Gateway(ctx)
		if err != nil {
			return "", err
		}
		return gateway.AuthorizationURL(issued), nil
	}
	r.Use(httpmiddleware.TokenAuthentication(tokens, loginURL, httpmiddleware.GateConfig{
		Exclude:     gateExclude,
		SoftExclude: gateSoftExclude,
	}))

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"name": cfg.ServiceName, "version": Version})
	})
	r.GET("/cb", callbackHandler.Callback)

	v1 := r.Group("/v1")
	{
		v1.GET("/ping", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"message": "pong"})
		})

		v1.GET("/auth", tokenHandler.Handle)
		v1.POST("/auth", tokenHandler.Handle)
		v1.DELETE("/auth", tokenHandler.Logout)
		v1.POST("/token", tokenHandler.Handle)

		v1.GET("/auth_provider", providerHandler.Show)
		v1.POST("/auth_provider", providerHandler.Save)
		v1.PUT("/auth_provider", providerHandler.Save)
	}

	return r
}
