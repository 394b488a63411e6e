package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/coin_service/internal/domain/coin"
)

func TestHTTPIdentityProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/alice":
			_, _ = w.Write([]byte(`{"id":"alice","fullName":"Alice Liddell","image":"images/alice.png"}`))
		case "/users/bob":
			_, _ = w.Write([]byte(`{"name":"Bob","surname":"Builder"}`))
		case "/users/broken":
			http.Error(w, "ldap down", http.StatusBadGateway)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := NewHTTPIdentityProvider(srv.URL+"/", 0)
	ctx := context.Background()

	alice, err := p.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice Liddell", alice.FullName)
	assert.Equal(t, "images/alice.png", alice.Image)

	bob, err := p.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", bob.ID)
	assert.Equal(t, "Bob Builder", bob.FullName)

	_, err = p.Lookup(ctx, "ghost")
	require.ErrorIs(t, err, coin.ErrAccountNotFound)

	_, err = p.Lookup(ctx, "broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, coin.ErrAccountNotFound)
	assert.Contains(t, err.Error(), "502")
}

func TestAnonymousIdentities(t *testing.T) {
	ident, err := AnonymousIdentities{}.Lookup(context.Background(), "zed")
	require.NoError(t, err)
	assert.Equal(t, "zed", ident.FullName)
}
