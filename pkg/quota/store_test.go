package quota

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/is_user_blocked", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("apikey"))

		var args map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&args))
		json.NewEncoder(w).Encode(args["p_user_id"] == "bad-user")
	}))
	defer srv.Close()

	s := NewStore(&Config{URL: srv.URL, ServiceKey: "secret"})
	assert.True(t, s.IsBlocked(context.Background(), "bad-user"))
	assert.False(t, s.IsBlocked(context.Background(), "good-user"))
}

func TestIsBlocked_FailsOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewStore(&Config{URL: srv.URL, ServiceKey: "k"})
	assert.False(t, s.IsBlocked(context.Background(), "anyone"))
}

func TestConsumeQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/rpc/consume_query", r.URL.Path)
		json.NewEncoder(w).Encode(Result{Allowed: false, Used: 10, Limit: 10, SubscriptionType: "gratuito"})
	}))
	defer srv.Close()

	s := NewStore(&Config{URL: srv.URL, ServiceKey: "k"})
	res := s.ConsumeQuery(context.Background(), "u1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 10, res.Used)
	assert.Equal(t, "gratuito", res.SubscriptionType)
}

func TestConsumeQuery_FailsOpen(t *testing.T) {
	s := NewStore(&Config{URL: "http://127.0.0.1:1", ServiceKey: "k"})
	res := s.ConsumeQuery(context.Background(), "u1")
	assert.True(t, res.Allowed)
}

func TestNilStoreAllowsEverything(t *testing.T) {
	var s *Store
	assert.False(t, s.IsBlocked(context.Background(), "u"))
	assert.True(t, s.ConsumeQuery(context.Background(), "u").Allowed)

	res, err := s.Status(context.Background(), "u")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
