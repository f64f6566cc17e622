package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAPIClient_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/downloads":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]string{"id": body["item_id"], "status": "queued"})
		case "/api/v1/network":
			assert.Equal(t, "x", r.URL.Query().Get("check"))
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"error": "download not active"})
		default:
			http.Error(w, "nope", http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newAPIClient(server.URL + "/")

	var out map[string]string
	require.NoError(t, client.do(http.MethodPost, "/api/v1/downloads", nil, map[string]string{"item_id": "i1"}, &out))
	assert.Equal(t, "i1", out["id"])

	err := client.do(http.MethodGet, "/api/v1/network", url.Values{"check": {"x"}}, nil, nil)
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "download not active", apiErr.Message)

	err = client.do(http.MethodGet, "/elsewhere", nil, nil, nil)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "nope", apiErr.Message)
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8470/x", newAPIClient("http://localhost:8470").websocketURL("/x"))
	assert.Equal(t, "wss://sync.example/x", newAPIClient("https://sync.example/").websocketURL("/x"))
}

func TestDownloadPath(t *testing.T) {
	assert.Equal(t, "/api/v1/downloads/slides/c%201/m/i", downloadPath([]string{"slides", "c 1", "m", "i"}))
}

func TestFormatProgress(t *testing.T) {
	assert.Equal(t, "512 B / ?", formatProgress(512, 0))
	assert.Equal(t, "1.0 KiB / 2.0 KiB (50%)", formatProgress(1024, 2048))
	assert.Equal(t, "1.5 MiB / 3.0 MiB (50%)", formatProgress(1536*1024, 3*1024*1024))
}

func TestParseToggle(t *testing.T) {
	for in, want := range map[string]bool{"on": true, "yes": true, "off": false, "no": false, "true": true, "0": false} {
		got, err := parseToggle(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := parseToggle("maybe")
	assert.Error(t, err)
}
