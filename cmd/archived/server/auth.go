package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	apierr "github.com/nialab/neuropipe/pkg/api/types/errors"
)

// BearerAuth verifies a HS256-signed bearer token on each request.
//
// Tokens are opaque to handlers; only validity and expiry are checked.
func BearerAuth(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return apierr.Unauthorized("send a bearer token", nil)
			}

			_, err := jwt.Parse(
				token,
				func(t *jwt.Token) (interface{}, error) { return secret, nil },
				jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			)
			if err != nil {
				if errors.Is(err, jwt.ErrTokenExpired) {
					return apierr.Unauthorized("token is expired. get a new one", err)
				}
				return apierr.Unauthorized("token is not valid", err)
			}
			return next(c)
		}
	}
}

// IssueToken mints a HS256 token for subject, good for ttl.
func IssueToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	})
	signed, err := tok.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
