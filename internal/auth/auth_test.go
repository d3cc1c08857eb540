package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{name: "valid", header: "Bearer abc", want: "abc"},
		{name: "padded", header: "Bearer   abc  ", want: "abc"},
		{name: "missing", header: "", wantErr: true},
		{name: "basic", header: "Basic abc", wantErr: true},
		{name: "empty token", header: "Bearer   ", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, err := ExtractBearerToken(r)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	tokens := []TokenConfig{
		{Token: "billing-token", Scopes: []string{ScopeBillingRW, " "}},
		{Token: "viewer", Scopes: []string{ScopeRoutingRO, ScopeEventsRO}},
	}

	admin, ok := Authenticate("root", "root", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(admin, ScopeRoutingRW))

	p, ok := Authenticate("billing-token", "root", tokens)
	require.True(t, ok)
	assert.True(t, HasAnyScope(p, ScopeBillingRO))
	assert.True(t, HasAnyScope(p, ScopeBillingRW))
	assert.False(t, HasAnyScope(p, ScopeRoutingRO))
	assert.Len(t, p.Scopes, 2)

	v, ok := Authenticate("viewer", "", tokens)
	require.True(t, ok)
	assert.False(t, HasAnyScope(v, ScopeRoutingRW))
	assert.True(t, HasAnyScope(v))

	_, ok = Authenticate("nope", "root", tokens)
	assert.False(t, ok)
	_, ok = Authenticate("", "", tokens)
	assert.False(t, ok)
}

func TestPrincipalContext(t *testing.T) {
	_, ok := PrincipalFromContext(context.Background())
	assert.False(t, ok)

	ctx := WithPrincipal(context.Background(), Principal{Token: "t"})
	p, ok := PrincipalFromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "t", p.Token)
}

func TestKnownScope(t *testing.T) {
	assert.True(t, KnownScope(ScopeEventsRO))
	assert.False(t, KnownScope("plugin:rw"))
}
