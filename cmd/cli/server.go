package main

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yourusername/offline-go/internal/daemon"
)

const (
	serverBinary       = "offline-server"
	serverStartTimeout = 10 * time.Second
	serverPollInterval = 200 * time.Millisecond
)

// isServerReady checks whether the server at baseURL passes its readiness check
func isServerReady(baseURL string) bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(baseURL + "/ready")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// serverEnv returns the overrides that make a started server listen where
// baseURL points. Only plain HTTP servers on this machine can be started.
func serverEnv(baseURL string) ([]string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" {
		return nil, fmt.Errorf("cannot start a server for %s: only http is served", baseURL)
	}

	host := u.Hostname()
	if !isLocalHost(host) {
		return nil, fmt.Errorf("cannot start a server for %s: host is not local", baseURL)
	}

	port := u.Port()
	if port == "" {
		port = "80"
	}
	return []string{
		"OFFLINE_SERVER_HOST=" + host,
		"OFFLINE_SERVER_PORT=" + port,
	}, nil
}

func isLocalHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// serverArgs returns the command line of a started server
func serverArgs(configPath string) []string {
	if configPath == "" {
		return nil
	}
	return []string{"-config", configPath}
}

// findServerBinary looks next to the CLI binary, then in PATH, then in the
// usual install locations.
func findServerBinary() (string, error) {
	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), serverBinary))
	}
	if path, err := exec.LookPath(serverBinary); err == nil {
		candidates = append(candidates, path)
	}
	home := os.Getenv("HOME")
	candidates = append(candidates,
		filepath.Join("/usr/local/bin", serverBinary),
		filepath.Join("/usr/bin", serverBinary),
		filepath.Join(home, "go/bin", serverBinary),
		filepath.Join(home, ".local/bin", serverBinary),
	)

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("%s binary not found", serverBinary)
}

// startServerBackground starts a detached server listening on baseURL
func startServerBackground(baseURL, configPath string) error {
	env, err := serverEnv(baseURL)
	if err != nil {
		return err
	}

	serverPath, err := findServerBinary()
	if err != nil {
		return err
	}

	if _, err := daemon.Start(serverPath, serverArgs(configPath), append(os.Environ(), env...)); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// waitForServerReady polls the readiness check until it passes or timeout elapses
func waitForServerReady(baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if isServerReady(baseURL) {
			return nil
		}
		time.Sleep(serverPollInterval)
	}
	return fmt.Errorf("server at %s was not ready within %v", baseURL, timeout)
}

// ensureServerRunning starts a local server for baseURL unless one is ready
func ensureServerRunning(baseURL, configPath string) error {
	if isServerReady(baseURL) {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Server not running at %s, starting...\n", baseURL)

	if err := startServerBackground(baseURL, configPath); err != nil {
		return err
	}
	if err := waitForServerReady(baseURL, serverStartTimeout); err != nil {
		return err
	}

	fmt.Fprintln(os.Stderr, "Server started successfully")
	return nil
}
