package routes

import (
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/altvishcoder/complianceapps/internal/db"
	"github.com/altvishcoder/complianceapps/internal/observability"
)

const clientContextKey = "api_client"

// requireClient authenticates the bearer API key and applies the per-client
// rate limit. Rate-limit headers go on every authenticated response; a
// rejected request does not reach the handler.
func (r *IntakeRoutes) requireClient(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		client, err := r.auth.Authenticate(ctx, bearerToken(c))
		if err != nil {
			return writeError(c, err)
		}

		decision, err := r.limiter.CheckAndIncrement(ctx, client.ID)
		if err != nil {
			return writeError(c, err)
		}
		if !decision.Allowed {
			return writeRateLimited(c, decision)
		}
		setRateHeaders(c, decision)

		ctx = observability.WithClientIdentity(ctx, client.ID, client.Tenant)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set(clientContextKey, client)
		return next(c)
	}
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func currentClient(c echo.Context) db.APIClient {
	client, _ := c.Get(clientContextKey).(db.APIClient)
	return client
}
