package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientTranslate(t *testing.T) {
	t.Run("sends request and returns translated text", func(t *testing.T) {
		var gotAuth string
		var gotReq translateRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/api/v1/translate", r.URL.Path)
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
			_ = json.NewEncoder(w).Encode(translateResponse{Text: "Hallo."})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "secret", time.Second)
		out, err := c.Translate(context.Background(), "Hello.", "de")
		require.NoError(t, err)
		assert.Equal(t, "Hallo.", out)
		assert.Equal(t, "Bearer secret", gotAuth)
		assert.Equal(t, translateRequest{Text: "Hello.", TargetLang: "de"}, gotReq)
	})

	t.Run("non-200 becomes an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", time.Second)
		_, err := c.Translate(context.Background(), "Hello.", "de")
		assert.Error(t, err)
	})

	t.Run("service error field becomes an error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(translateResponse{Error: "unsupported language"})
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "", time.Second)
		_, err := c.Translate(context.Background(), "Hello.", "xx")
		assert.ErrorContains(t, err, "unsupported language")
	})
}
