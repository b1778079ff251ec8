package auth_test

import (
	"context"
	"testing"

	"github.com/kazini-app/go-kazini-auth"
	"github.com/stretchr/testify/assert"
)

func TestUserContext(t *testing.T) {
	t.Run("empty context", func(t *testing.T) {
		user, ok := auth.FromContext(context.Background())
		assert.False(t, ok)
		assert.Nil(t, user)
	})

	t.Run("nil user is not a user", func(t *testing.T) {
		ctx := auth.WithContext(context.Background(), nil)
		_, ok := auth.FromContext(ctx)
		assert.False(t, ok)
	})

	t.Run("stored user", func(t *testing.T) {
		ctx := auth.WithContext(context.Background(), &auth.User{ID: "u1", Plan: auth.PlanPro})
		user, ok := auth.FromContext(ctx)
		assert.True(t, ok)
		assert.Equal(t, "u1", user.ID)
	})
}

func TestCanAccessFromContext(t *testing.T) {
	tests := []struct {
		name  string
		user  *auth.User
		route string
		want  bool
	}{
		{name: "anonymous", route: auth.RouteTruthTest, want: false},
		{name: "free on truth test", user: &auth.User{Plan: auth.PlanFree}, route: auth.RouteTruthTest, want: true},
		{name: "free on dashboard", user: &auth.User{Plan: auth.PlanFree}, route: auth.RouteDashboard, want: false},
		{name: "couple on couple mode", user: &auth.User{Plan: auth.PlanCouple}, route: auth.RouteCoupleMode, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.user != nil {
				ctx = auth.WithContext(ctx, tt.user)
			}
			assert.Equal(t, tt.want, auth.CanAccessFromContext(ctx, tt.route))
		})
	}
}
