package auth

import (
	"errors"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"infothon/internal/dto"
	"infothon/internal/identity"
)

const (
	ctxSub   = "sub"
	ctxRole  = "role"
	ctxEmail = "email"
	ctxUser  = "user"
	ctxToken = "token"
)

func bearer(c *ginext.Context) (string, bool) {
	h := c.GetHeader("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	return tok, tok != ""
}

// JWTAuth accepts operator tokens issued by this service.
func JWTAuth(issuer *Issuer) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		tok, ok := bearer(c)
		if !ok {
			dto.AuthRequiredError(c)
			c.Abort()
			return
		}
		claims, err := issuer.ParseValidate(tok)
		if err != nil {
			dto.AuthRequiredError(c)
			c.Abort()
			return
		}
		c.Set(ctxSub, claims.Sub)
		c.Set(ctxRole, claims.Role)
		c.Set(ctxEmail, claims.Email)
		c.Next()
	}
}

func RequireRole(roles ...string) ginext.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *ginext.Context) {
		v, _ := c.Get(ctxRole)
		role, _ := v.(string)
		if _, ok := allowed[role]; !ok {
			dto.ForbiddenError(c)
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserAuth resolves the identity-provider access token into the current user.
func UserAuth(users identity.Gateway) ginext.HandlerFunc {
	return func(c *ginext.Context) {
		tok, ok := bearer(c)
		if !ok {
			dto.AuthRequiredError(c)
			c.Abort()
			return
		}
		u, err := users.GetUser(c.Request.Context(), tok)
		if err != nil {
			if errors.Is(err, identity.ErrUnauthenticated) {
				dto.AuthRequiredError(c)
			} else {
				dto.ServiceUnavailableError(c)
			}
			c.Abort()
			return
		}
		c.Set(ctxUser, u)
		c.Set(ctxToken, tok)
		c.Next()
	}
}

// CurrentUser returns what UserAuth stored on the request.
func CurrentUser(c *ginext.Context) (*identity.User, string) {
	v, _ := c.Get(ctxUser)
	u, _ := v.(*identity.User)
	return u, c.GetString(ctxToken)
}

func Operator(c *ginext.Context) string {
	return c.GetString(ctxSub)
}
