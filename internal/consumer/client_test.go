package consumer

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/pmdev-translator/internal/relay"
)

func TestClient_Translate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, relay.TranslatePath, r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req relay.TranslateRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, relay.TranslateRequest{Content: "用户登录功能", Direction: relay.DevToPM}, req)

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, deltaLine("ok"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/")
	assert.Equal(t, srv.URL, c.BaseURL())

	body, err := c.Translate(context.Background(), relay.TranslateRequest{Content: "用户登录功能", Direction: relay.DevToPM})
	require.NoError(t, err)
	defer body.Close()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, deltaLine("ok"), string(data))
}

func TestClient_TranslateErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantMsg string
	}{
		{
			name:    "relay error body",
			status:  http.StatusBadRequest,
			body:    `{"error":"Invalid direction"}`,
			wantMsg: "HTTP error! status: 400: Invalid direction",
		},
		{
			name:    "plain body",
			status:  http.StatusBadGateway,
			body:    "bad gateway",
			wantMsg: "HTTP error! status: 502",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL).Translate(context.Background(), relay.TranslateRequest{Content: "x", Direction: relay.PMToDev})

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.status, te.StatusCode)
			assert.Equal(t, tt.wantMsg, err.Error())
		})
	}
}

func TestClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Translate(context.Background(), relay.TranslateRequest{Content: "x", Direction: relay.PMToDev})

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "request", te.Op)
	assert.Zero(t, te.StatusCode)
	assert.Contains(t, err.Error(), "request failed: ")
}
