package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserAgentFilter screens clients by User-Agent before any resolution
// work happens. In allow mode the UA must match a rule (an empty allow
// list admits everyone); in deny mode it must match none. Rules are
// lowercase substrings. A request with no identifiable client is
// rejected in both modes.
func UserAgentFilter(mode string, allow, deny []string) gin.HandlerFunc {
	allowRules := lowerAll(allow)
	denyRules := lowerAll(deny)
	return func(c *gin.Context) {
		ua := c.GetHeader("User-Agent")
		if ua == "" {
			ua = c.GetHeader("Client")
		}
		if !uaAllowed(mode, allowRules, denyRules, ua) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

func uaAllowed(mode string, allow, deny []string, ua string) bool {
	if ua == "" {
		return false
	}
	lower := strings.ToLower(ua)
	if mode == "deny" {
		for _, rule := range deny {
			if matchRule(lower, rule) {
				return false
			}
		}
		return true
	}
	if len(allow) == 0 {
		return true
	}
	for _, rule := range allow {
		if matchRule(lower, rule) {
			return true
		}
	}
	return false
}

// matchRule is a substring match with one quirk: the rule "infuse"
// means the player itself, not its library indexer or downloader,
// which identify as infuse-library and infuse-download.
func matchRule(ua, rule string) bool {
	if rule == "infuse" {
		if strings.Contains(ua, "infuse-library") || strings.Contains(ua, "infuse-download") {
			return false
		}
	}
	return strings.Contains(ua, rule)
}

func lowerAll(rules []string) []string {
	out := make([]string, len(rules))
	for i, r := range rules {
		out[i] = strings.ToLower(strings.TrimSpace(r))
	}
	return out
}
