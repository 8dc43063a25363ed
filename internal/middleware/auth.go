package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"

	"github.com/manupriyaaa/tracelens/internal/api/respond"
	"github.com/manupriyaaa/tracelens/internal/service/auth"
)

// ownerKey is the gin context key the authenticated owner id is stored under.
const ownerKey = "owner_id"

var errUnauthorized = errors.New("missing or invalid authorization token")

// Auth validates the Bearer token and stores the authenticated owner id in
// the request context. Handlers must take the owner from here and never
// from client input.
func Auth(secret []byte) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respond.Fail(c, http.StatusUnauthorized, errUnauthorized)
			c.Abort()
			return
		}

		userID, err := auth.UserIDFromToken(token, secret)
		if err != nil {
			respond.Fail(c, http.StatusUnauthorized, errUnauthorized)
			c.Abort()
			return
		}

		ownerID, err := uuid.Parse(userID)
		if err != nil {
			respond.Fail(c, http.StatusUnauthorized, errUnauthorized)
			c.Abort()
			return
		}

		c.Set(ownerKey, ownerID)
		c.Next()
	}
}

// OwnerID extracts the authenticated owner id placed by Auth.
func OwnerID(c *ginext.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ownerKey)
	if !ok {
		return uuid.Nil, false
	}

	id, ok := v.(uuid.UUID)
	return id, ok
}
