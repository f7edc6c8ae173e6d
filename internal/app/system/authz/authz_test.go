package authz_test

import (
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/volunteerhub/internal/app/system/auth"
	"github.com/dalemusser/volunteerhub/internal/app/system/authz"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestUserCtx_NoUser(t *testing.T) {
	role, name, id, ok := authz.UserCtx(httptest.NewRequest("GET", "/", nil))
	if ok || role != "visitor" || name != "" || id != primitive.NilObjectID {
		t.Errorf("UserCtx = %q %q %v %v, want visitor", role, name, id, ok)
	}
}

func TestUserCtx_MalformedID(t *testing.T) {
	req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{ID: "nope", Role: "superadmin"})
	if _, _, _, ok := authz.UserCtx(req); ok {
		t.Error("expected ok=false for malformed id")
	}
	if authz.IsSuperAdmin(req) {
		t.Error("malformed session must not be treated as superadmin")
	}
}

func TestIsPrivileged(t *testing.T) {
	tests := []struct {
		role string
		want bool
	}{
		{"volunteer", false},
		{"secretary", true},
		{"domain_head", true},
		{"Associate_Head", true},
		{"superadmin", true},
		{"", false},
	}
	for _, tt := range tests {
		req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{
			ID:   primitive.NewObjectID().Hex(),
			Role: tt.role,
		})
		if got := authz.IsPrivileged(req); got != tt.want {
			t.Errorf("IsPrivileged(%q) = %v, want %v", tt.role, got, tt.want)
		}
	}
}

func TestCurrentPrincipal(t *testing.T) {
	id := primitive.NewObjectID()
	req := auth.WithTestUser(httptest.NewRequest("GET", "/", nil), &auth.SessionUser{
		ID:   id.Hex(),
		Name: "Ravi",
		Role: "SUPERADMIN",
	})
	p, ok := authz.CurrentPrincipal(req)
	if !ok {
		t.Fatal("expected principal")
	}
	if p.ID != id || p.Name != "Ravi" || !p.SuperAdmin() || !p.Privileged() {
		t.Errorf("principal = %+v", p)
	}
}
