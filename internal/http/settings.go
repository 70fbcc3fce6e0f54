package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/mod/semver"

	"postboard/internal/auth"
	"postboard/internal/featureflag"
)

// mustUpdate tells a client whether its version is below the supported
// minimum. The force_update flag overrides the comparison.
func (h *Handler) mustUpdate(c *gin.Context) {
	user, ok := auth.CurrentUser(c)
	if !ok {
		h.renderError(c, auth.ErrUnauthenticated)
		return
	}

	if h.flags != nil {
		forced, err := h.flags.Enabled(featureflag.ForceUpdate, user.ID)
		if err != nil {
			h.renderError(c, err)
			return
		}
		if forced {
			c.JSON(http.StatusOK, gin.H{"must_update": true})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"must_update": versionBelow(c.Query("version"), h.minVersion)})
}

// versionBelow reports whether version is older than minimum. An unreadable
// version is treated as too old; an unreadable minimum accepts everything.
func versionBelow(version, minimum string) bool {
	minimum = canonicalVersion(minimum)
	if !semver.IsValid(minimum) {
		return false
	}
	version = canonicalVersion(version)
	if !semver.IsValid(version) {
		return true
	}
	return semver.Compare(version, minimum) < 0
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
