//nolint:varnamelen
package echo

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/toolgate"
	"go.pilab.hu/toolgate/api"
	"go.pilab.hu/toolgate/errors"
	"go.pilab.hu/toolgate/launch"
	"go.pilab.hu/toolgate/middleware"
)

// DefaultRoutePrefix is where the access routes are mounted.
const DefaultRoutePrefix = "/api/secure-access"

// AccessAPI struct to hold dependencies.
type AccessAPI struct {
	service  *toolgate.AccessService
	renderer *launch.Renderer
	verifier *middleware.TokenVerifier
	gatherer prometheus.Gatherer
	prefix   string
}

// Options configures an AccessAPI.
type Options struct {
	Service  *toolgate.AccessService
	Renderer *launch.Renderer
	Verifier *middleware.TokenVerifier
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer    prometheus.Gatherer
	RoutePrefix string
}

// NewAccessAPI initializes the access API.
func NewAccessAPI(opts Options) *AccessAPI {
	prefix := strings.TrimRight(opts.RoutePrefix, "/")
	if prefix == "" {
		prefix = DefaultRoutePrefix
	}
	return &AccessAPI{
		service:  opts.Service,
		renderer: opts.Renderer,
		verifier: opts.Verifier,
		gatherer: opts.Gatherer,
		prefix:   prefix,
	}
}

// RegisterRoutes registers the access routes.
func (a *AccessAPI) RegisterRoutes(e *echo.Echo) {
	g := e.Group(a.prefix)

	authn := middleware.JWTAuth(a.verifier)
	g.POST("/tools/:tool_id/request-access", a.RequestAccessHandler, authn)
	g.GET("/launch/:access_token", a.LaunchHandler)
	g.DELETE("/tokens/cleanup", a.CleanupHandler, authn, middleware.RequireElevated())

	e.GET("/healthz", a.HealthHandler)
	if a.gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}
}

func (a *AccessAPI) sendError(c echo.Context, err error) error {
	apiErr := errors.FromError(err)
	if apiErr.Status >= http.StatusInternalServerError {
		log.Ctx(c.Request().Context()).Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	return c.JSON(apiErr.Status, apiErr)
}

// RequestAccessHandler issues a one-time access link for the tool in the
// path on behalf of the authenticated caller.
func (a *AccessAPI) RequestAccessHandler(c echo.Context) error {
	identity, ok := middleware.IdentityFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, errors.NewUnauthorized("Not authenticated"))
	}

	issued, err := a.service.Issue(c.Request().Context(), c.Param("tool_id"), identity)
	if err != nil {
		return a.sendError(c, err)
	}

	return c.JSON(http.StatusOK, api.AccessGrantResponse{
		AccessToken:      issued.Token.Value(),
		AccessURL:        issued.AccessURL,
		ToolName:         issued.ToolName,
		HasAutoLogin:     issued.HasAutoLogin,
		LoginURL:         issued.LoginURL,
		ExpiresInSeconds: int(issued.ExpiresIn.Seconds()),
	})
}

// LaunchHandler redeems the token in the path and delivers the tool login.
// Every failure renders the same 403 error page.
func (a *AccessAPI) LaunchHandler(c echo.Context) error {
	ctx := c.Request().Context()

	grant, err := a.service.Redeem(ctx, c.Param("access_token"))
	if err != nil {
		if !toolgate.IsRedemptionError(err) {
			log.Ctx(ctx).Error().Err(err).Msg("redemption failed")
		}
		return a.renderer.RenderError(c.Response(), err)
	}

	if err := a.renderer.Launch(c.Response(), c.Request(), grant); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("grant_id", grant.ID).
			Str("tool_id", grant.ToolID).
			Msg("launch failed")
		return a.renderer.RenderError(c.Response(), toolgate.ErrInvalidToken)
	}

	return nil
}

// CleanupHandler sweeps expired grants. Elevated callers only.
func (a *AccessAPI) CleanupHandler(c echo.Context) error {
	identity, _ := middleware.IdentityFrom(c)

	removed, err := a.service.Sweep(c.Request().Context(), identity)
	if err != nil {
		return a.sendError(c, err)
	}

	return c.JSON(http.StatusOK, api.CleanupResponse{
		RemovedCount: removed,
		Message:      fmt.Sprintf("Cleaned up %d expired tokens", removed),
	})
}

// HealthHandler reports liveness.
func (a *AccessAPI) HealthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, api.HealthResponse{
		Status:     "ok",
		LiveGrants: a.service.LiveGrants(c.Request().Context()),
	})
}
