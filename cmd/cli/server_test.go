package main

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerEnv(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		expected []string
		wantErr  bool
	}{
		{"localhost", "http://localhost:9090", []string{"OFFLINE_SERVER_HOST=localhost", "OFFLINE_SERVER_PORT=9090"}, false},
		{"loopback ip", "http://127.0.0.1:8181", []string{"OFFLINE_SERVER_HOST=127.0.0.1", "OFFLINE_SERVER_PORT=8181"}, false},
		{"ipv6 loopback", "http://[::1]:8181", []string{"OFFLINE_SERVER_HOST=::1", "OFFLINE_SERVER_PORT=8181"}, false},
		{"default port", "http://localhost", []string{"OFFLINE_SERVER_HOST=localhost", "OFFLINE_SERVER_PORT=80"}, false},
		{"remote host", "http://tiles.example.com:8181", nil, true},
		{"https", "https://localhost:8181", nil, true},
		{"malformed", "http://%zz", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := serverEnv(tt.baseURL)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, env)
		})
	}
}

func TestServerArgs(t *testing.T) {
	assert.Nil(t, serverArgs(""))
	assert.Equal(t, []string{"-config", "/etc/offline-go/config.yaml"}, serverArgs("/etc/offline-go/config.yaml"))
}

func TestIsServerReady(t *testing.T) {
	var ready atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ready" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.False(t, isServerReady(server.URL))
	ready.Store(true)
	assert.True(t, isServerReady(server.URL))
	assert.False(t, isServerReady("http://127.0.0.1:1"))
}

func TestWaitForServerReady(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, waitForServerReady(server.URL, 5*time.Second))
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestWaitForServerReady_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := waitForServerReady(server.URL, 300*time.Millisecond)
	assert.Error(t, err)
}

func TestStartServerBackground_RejectsRemoteServer(t *testing.T) {
	err := startServerBackground("http://tiles.example.com:8181", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not local")
}
