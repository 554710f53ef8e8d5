package middlewares

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"settlement-service/models"
	"settlement-service/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware("secret"), TrackOperation("whoami"))
	r.GET("/whoami", func(c *gin.Context) {
		caller, ok := CallerFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": caller.UserID, "roles": caller.Roles})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	r := newAuthRouter()
	token, err := utils.GenerateToken("secret", "u1", []string{models.RoleBuyer}, time.Hour)
	require.NoError(t, err)
	foreign, err := utils.GenerateToken("other", "u1", nil, time.Hour)
	require.NoError(t, err)

	for name, tc := range map[string]struct {
		header string
		status int
	}{
		"valid":        {"Bearer " + token, http.StatusOK},
		"missing":      {"", http.StatusUnauthorized},
		"wrong scheme": {"Basic " + token, http.StatusUnauthorized},
		"empty bearer": {"Bearer   ", http.StatusUnauthorized},
		"bad token":    {"Bearer " + foreign, http.StatusUnauthorized},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.status, w.Code)
			if tc.status == http.StatusUnauthorized {
				assert.Contains(t, w.Body.String(), `"kind":"unauthenticated"`)
			} else {
				assert.Contains(t, w.Body.String(), `"user_id":"u1"`)
			}
		})
	}
}

func TestCallerFromWithoutAuth(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := CallerFrom(c)
	assert.False(t, ok)
}
