package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Claims is the token payload issued by the external session service.
type Claims struct {
	jwt.RegisteredClaims
	EmployeeID     string `json:"employee_id"`
	OrganizationID string `json:"organization_id"`
	Role           string `json:"role"`
}

// JWTConfig configures bearer token verification.
type JWTConfig struct {
	Issuer     string
	Audience   string
	SigningKey []byte
}

// JWTMiddleware verifies the bearer token and places the resolved Actor on
// the request context. Tokens are HS256-signed by the session service with a
// shared key; issuer/audience are checked when configured.
func JWTMiddleware(cfg JWTConfig) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
			}

			claims := &Claims{}
			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"HS256"}),
			}
			if cfg.Issuer != "" {
				opts = append(opts, jwt.WithIssuer(cfg.Issuer))
			}
			if cfg.Audience != "" {
				opts = append(opts, jwt.WithAudience(cfg.Audience))
			}

			token, err := jwt.ParseWithClaims(parts[1], claims, func(t *jwt.Token) (interface{}, error) {
				return cfg.SigningKey, nil
			}, opts...)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			actor, err := actorFromClaims(claims)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
			}

			c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), actor)))
			return next(c)
		}
	}
}

func actorFromClaims(claims *Claims) (Actor, error) {
	employeeID, err := uuid.Parse(claims.EmployeeID)
	if err != nil {
		return Actor{}, fmt.Errorf("token carries no valid employee_id")
	}
	orgID, err := uuid.Parse(claims.OrganizationID)
	if err != nil {
		return Actor{}, fmt.Errorf("token carries no valid organization_id")
	}
	if !ValidRoles[claims.Role] {
		return Actor{}, fmt.Errorf("token carries unknown role %q", claims.Role)
	}
	return Actor{EmployeeID: employeeID, OrganizationID: orgID, Role: claims.Role}, nil
}

// DevAuthMiddleware injects a fixed admin actor for unauthenticated requests.
// Development only.
func DevAuthMiddleware(orgID uuid.UUID) echo.MiddlewareFunc {
	devActor := Actor{
		EmployeeID:     uuid.New(),
		OrganizationID: orgID,
		Role:           RoleAdmin,
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if ActorFromContext(c.Request().Context()) == (Actor{}) {
				c.SetRequest(c.Request().WithContext(WithActor(c.Request().Context(), devActor)))
			}
			return next(c)
		}
	}
}

// RequireRole returns middleware that checks if the actor holds one of the
// given roles. ADMIN always passes.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			actor := ActorFromContext(c.Request().Context())
			if actor.Role == RoleAdmin {
				return next(c)
			}
			for _, required := range roles {
				if actor.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}
