package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"bundle-platform/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "u", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_AdminBypasses(t *testing.T) {
	if code := serveAs(RoleAdmin, RoleSupport); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_CustomerDenied(t *testing.T) {
	if code := serveAs(RoleCustomer, RoleSupport); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_AllowedRolePasses(t *testing.T) {
	if code := serveAs(RoleSupport, RoleSupport); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_UnknownRoleDenied(t *testing.T) {
	if code := serveAs("root", "root"); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serveAs("", RoleAdmin); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}
