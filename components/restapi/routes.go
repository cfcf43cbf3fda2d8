package restapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/dueldanov/claimescrow/internal/escrow"
	"github.com/dueldanov/claimescrow/internal/monitoring"
	"github.com/dueldanov/claimescrow/internal/security"
	"github.com/dueldanov/claimescrow/internal/service"
)

const (
	// ParameterClaimID is used to identify a claim escrow.
	ParameterClaimID = "claimID"

	// ParameterRegistryID is used to identify a claim registry.
	ParameterRegistryID = "registryID"

	// QueryParameterOffset skips the first results of a list.
	QueryParameterOffset = "offset"

	// QueryParameterLimit bounds the results of a list.
	QueryParameterLimit = "limit"
)

const (
	// RouteHealth is the route for querying the health of the node.
	// GET returns http status code 200 if the node is healthy.
	RouteHealth = "/health"

	// APIRoute is the prefix all claim escrow routes are registered under.
	APIRoute = "/api/claimescrow/v1"

	// RouteClaim is the route for looking up a claim escrow.
	// GET returns the claim view with its effective status.
	RouteClaim = "/claims/:" + ParameterClaimID

	// RouteClaimExpire is the route for expiring an elapsed claim escrow.
	// POST releases the asset back to the registry authority.
	RouteClaimExpire = "/claims/:" + ParameterClaimID + "/expire"

	// RouteClaimAudit is the route for the audit trail of a claim escrow.
	RouteClaimAudit = "/claims/:" + ParameterClaimID + "/audit"

	// RouteRegistry is the route for looking up a claim registry.
	RouteRegistry = "/registries/:" + ParameterRegistryID

	// RouteRegistryClaims is the route for listing the escrows of a registry.
	RouteRegistryClaims = "/registries/:" + ParameterRegistryID + "/claims"

	// RouteRegistryStats is the route for the counters of a registry.
	RouteRegistryStats = "/registries/:" + ParameterRegistryID + "/stats"

	// RouteRegistryExists is the route for checking whether a claim code is registered.
	// POST takes the code in the body so it never ends up in access logs.
	RouteRegistryExists = "/registries/:" + ParameterRegistryID + "/exists"

	// RouteAlerts is the route for the currently active alerts.
	RouteAlerts = "/alerts"
)

// claimAPI serves the read side of the claim escrow service plus the
// permissionless expiry.
type claimAPI struct {
	service    *service.Service
	alerts     *monitoring.AlertManager
	audit      *security.AuditLogger
	maxResults int
}

func (api *claimAPI) setupRoutes(e *echo.Echo) {
	e.GET(RouteHealth, func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	routeGroup := e.Group(APIRoute)

	routeGroup.GET(RouteClaim, func(c echo.Context) error {
		resp, err := api.service.ClaimView(c.Request().Context(), c.Param(ParameterClaimID))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, resp)
	})

	routeGroup.POST(RouteClaimExpire, func(c echo.Context) error {
		claimID := c.Param(ParameterClaimID)
		if _, err := api.service.ExpireClaim(c.Request().Context(), claimID); err != nil {
			return err
		}

		resp, err := api.service.ClaimView(c.Request().Context(), claimID)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, resp)
	})

	routeGroup.GET(RouteClaimAudit, func(c echo.Context) error {
		if api.audit == nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "audit trail is disabled")
		}

		offset, limit, err := api.pagination(c)
		if err != nil {
			return err
		}

		entries, err := api.audit.Query(c.Request().Context(), &security.AuditFilter{
			ClaimID: c.Param(ParameterClaimID),
			Offset:  offset,
			Limit:   limit,
		})
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, &auditResponse{Entries: entries})
	})

	routeGroup.GET(RouteRegistry, func(c echo.Context) error {
		resp, err := api.service.GetRegistry(c.Request().Context(), c.Param(ParameterRegistryID))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, resp)
	})

	routeGroup.GET(RouteRegistryClaims, func(c echo.Context) error {
		offset, limit, err := api.pagination(c)
		if err != nil {
			return err
		}

		claims, err := api.service.ListClaims(c.Request().Context(), c.Param(ParameterRegistryID))
		if err != nil {
			return err
		}

		resp := &claimsResponse{Total: len(claims)}
		if offset < len(claims) {
			end := offset + limit
			if end > len(claims) {
				end = len(claims)
			}
			resp.Claims = claims[offset:end]
		}
		if resp.Claims == nil {
			resp.Claims = []*service.ClaimView{}
		}

		return c.JSON(http.StatusOK, resp)
	})

	routeGroup.GET(RouteRegistryStats, func(c echo.Context) error {
		stats, err := api.service.Stats(c.Request().Context(), c.Param(ParameterRegistryID))
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, &stats)
	})

	routeGroup.POST(RouteRegistryExists, func(c echo.Context) error {
		req := &existsRequest{}
		if err := c.Bind(req); err != nil {
			return errors.WithMessagef(escrow.ErrInvalidMetadata, "invalid request: %s", err)
		}

		exists, err := api.service.ClaimExists(c.Request().Context(), c.Param(ParameterRegistryID), req.ClaimCode)
		if err != nil {
			return err
		}

		return c.JSON(http.StatusOK, &existsResponse{Exists: exists})
	})

	routeGroup.GET(RouteAlerts, func(c echo.Context) error {
		resp := &alertsResponse{Alerts: []*alertResponse{}}
		if api.alerts != nil {
			for _, alert := range api.alerts.GetActiveAlerts() {
				resp.Alerts = append(resp.Alerts, newAlertResponse(alert))
			}
		}

		return c.JSON(http.StatusOK, resp)
	})
}

func (api *claimAPI) pagination(c echo.Context) (int, int, error) {
	offset, err := queryInt(c, QueryParameterOffset, 0)
	if err != nil {
		return 0, 0, err
	}

	limit, err := queryInt(c, QueryParameterLimit, api.maxResults)
	if err != nil {
		return 0, 0, err
	}
	if limit <= 0 || limit > api.maxResults {
		limit = api.maxResults
	}

	return offset, limit, nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	value := c.QueryParam(name)
	if value == "" {
		return fallback, nil
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, escrow.Errorf(escrow.KindInvalidMetadata, "invalid query parameter %s: %q", name, value)
	}

	return parsed, nil
}

type existsRequest struct {
	ClaimCode string `json:"claimCode"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

type claimsResponse struct {
	Total  int                  `json:"total"`
	Claims []*service.ClaimView `json:"claims"`
}

type auditResponse struct {
	Entries []*security.AuditEntry `json:"entries"`
}

type alertResponse struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Severity    string    `json:"severity"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}

func newAlertResponse(alert *monitoring.Alert) *alertResponse {
	return &alertResponse{
		ID:          alert.ID,
		Type:        string(alert.Type),
		Severity:    string(alert.Severity),
		Title:       alert.Title,
		Description: alert.Description,
		Source:      alert.Source,
		Timestamp:   alert.Timestamp,
	}
}

type alertsResponse struct {
	Alerts []*alertResponse `json:"alerts"`
}

// errorResponse is the body of every failed API call.
type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Kind    string `json:"kind,omitempty"`
		Message string `json:"message"`
	} `json:"error"`
}

// httpStatus maps a claim escrow error kind onto the HTTP status returned to clients.
func httpStatus(kind escrow.Kind) int {
	switch kind {
	case escrow.KindInvalidMetadata, escrow.KindInvalidAmount:
		return http.StatusBadRequest
	case escrow.KindNotFound:
		return http.StatusNotFound
	case escrow.KindAlreadyExists:
		return http.StatusConflict
	case escrow.KindNotAuthorized:
		return http.StatusForbidden
	case escrow.KindAttemptsExhausted:
		return http.StatusTooManyRequests
	case escrow.KindExpired:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// errorHandler renders echo and claim escrow errors as errorResponse.
func errorHandler(onError func(err error)) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		resp := &errorResponse{}

		var httpErr *echo.HTTPError
		var escrowErr *escrow.Error
		switch {
		case errors.As(err, &httpErr):
			resp.Error.Code = httpErr.Code
			resp.Error.Message = http.StatusText(httpErr.Code)
			if msg, ok := httpErr.Message.(string); ok {
				resp.Error.Message = msg
			}
		case errors.As(err, &escrowErr):
			resp.Error.Code = httpStatus(escrowErr.Kind)
			resp.Error.Kind = escrowErr.Kind.String()
			resp.Error.Message = err.Error()
		default:
			resp.Error.Code = http.StatusInternalServerError
			resp.Error.Message = http.StatusText(http.StatusInternalServerError)
		}

		if resp.Error.Code >= http.StatusInternalServerError && onError != nil {
			onError(err)
		}

		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(resp.Error.Code)
			return
		}
		_ = c.JSON(resp.Error.Code, resp)
	}
}
