package gate

import (
	"crypto/subtle"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/0xaron/agentdoor/internal/gate/gateerr"
)

// agentContextKey is the gin.Context key AgentRequired stores the
// AgentContext under for downstream handlers.
const agentContextKey = "agentdoor.agent"

// constantTimeEqual compares two secrets without leaking timing
// information about where they first differ.
func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// AgentRequired returns gin middleware enforcing a valid bearer token,
// and — when scopes is non-empty — that the token carries every named
// scope. On success it stores an AgentContext in the gin context,
// retrievable with AgentFromContext.
func (g *Gate) AgentRequired(scopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(header, prefix) || header == prefix {
			recordGuardRejection("missing_header")
			respondError(c, gateerr.New(gateerr.Unauthorized, "Missing or invalid Authorization header"))
			c.Abort()
			return
		}
		token := strings.TrimPrefix(header, prefix)

		ctx := c.Request.Context()
		rec, err := g.cfg.Store.GetToken(ctx, token)
		if err != nil {
			recordGuardRejection("invalid_token")
			respondError(c, gateerr.New(gateerr.Unauthorized, "Invalid or expired token"))
			c.Abort()
			return
		}

		if len(scopes) > 0 {
			have := make(map[string]struct{}, len(rec.Scopes))
			for _, s := range rec.Scopes {
				have[s] = struct{}{}
			}
			var missing []string
			for _, want := range scopes {
				if _, ok := have[want]; !ok {
					missing = append(missing, want)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				recordGuardRejection("missing_scope")
				respondError(c, gateerr.New(gateerr.Forbidden,
					"Missing required scopes: "+strings.Join(missing, ", ")))
				c.Abort()
				return
			}
		}

		agent, err := g.cfg.Store.GetAgent(ctx, rec.AgentID)
		if err != nil {
			recordGuardRejection("agent_not_found")
			respondError(c, gateerr.New(gateerr.Unauthorized, "Agent not found"))
			c.Abort()
			return
		}

		c.Set(agentContextKey, AgentContext{
			AgentID:   agent.AgentID,
			AgentName: agent.AgentName,
			Scopes:    rec.Scopes,
		})
		c.Next()
	}
}

// AgentFromContext retrieves the AgentContext stored by AgentRequired. The
// second return value is false if no middleware ran on this request.
func AgentFromContext(c *gin.Context) (AgentContext, bool) {
	v, ok := c.Get(agentContextKey)
	if !ok {
		return AgentContext{}, false
	}
	ac, ok := v.(AgentContext)
	return ac, ok
}
