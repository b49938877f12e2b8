package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/emberhost/panel/internal/models"
	"github.com/gin-gonic/gin"
)

// NodeFinder resolves the identifier half of a daemon credential to a node
type NodeFinder interface {
	FindByTokenID(tokenID string) (*models.Node, error)
}

// DaemonAuthMiddleware authenticates callbacks from node daemons. The bearer
// credential has the form "<tokenID>.<token>"; the token half is compared in
// constant time so a missing node and a wrong token are indistinguishable.
func DaemonAuthMiddleware(nodes NodeFinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			HandleError(c, NewUnauthorizedError("Access to this endpoint must include an Authorization header"))
			return
		}

		bearer := strings.TrimPrefix(authHeader, "Bearer ")
		parts := strings.SplitN(bearer, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			HandleError(c, NewBadRequestError("The Authorization header provided is in an invalid format"))
			return
		}

		node, err := nodes.FindByTokenID(parts[0])
		if err == nil && subtle.ConstantTimeCompare([]byte(node.Token), []byte(parts[1])) == 1 {
			c.Set("node", node)
			c.Set("node_id", node.ID)
			c.Next()
			return
		}

		// Do not reveal whether the node exists at all
		HandleError(c, NewForbiddenError("You do not have permission to access this resource"))
	}
}

// NodeFromContext returns the authenticated node attached by
// DaemonAuthMiddleware, or nil when the request was not daemon-authenticated.
func NodeFromContext(c *gin.Context) *models.Node {
	v, exists := c.Get("node")
	if !exists {
		return nil
	}
	node, ok := v.(*models.Node)
	if !ok {
		return nil
	}
	return node
}
