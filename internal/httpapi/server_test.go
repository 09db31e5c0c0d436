package httpapi

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/astrohaus/stationd/internal/command"
	"github.com/astrohaus/stationd/internal/worker"
)

func TestEnsureCertificate(t *testing.T) {
	dir := t.TempDir()

	cert, fingerprint, err := EnsureCertificate(dir)
	require.NoError(t, err)
	require.NotNil(t, cert.Leaf)
	assert.Len(t, fingerprint, 64)

	onDisk, err := os.ReadFile(filepath.Join(dir, "tls", "cert-fingerprint.txt"))
	require.NoError(t, err)
	assert.Equal(t, fingerprint, string(onDisk))

	// A reload yields the same certificate.
	_, again, err := EnsureCertificate(dir)
	require.NoError(t, err)
	assert.Equal(t, fingerprint, again)
}

func TestServerIntegration(t *testing.T) {
	ctx := context.Background()

	svrCert, svrFprint, err := EnsureCertificate(t.TempDir())
	require.NoError(t, err)
	cliCert, cliFprint, err := EnsureCertificate(t.TempDir())
	require.NoError(t, err)

	configDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "station_config_7.toml"), []byte("[main]\nperiod = 30.0\n"), 0644))
	require.NoError(t, os.Symlink("station_config_7.toml", filepath.Join(configDir, "station_config.toml")))

	statuses := worker.NewStatusRegistry()
	st := worker.NewStatus("heartbeat", nil, nil, zap.NewNop().Sugar())
	st.SetRunning()
	statuses.Add(st)

	inbox := &command.Inbox{}
	svr := NewServer(svrCert, ServerOptions{
		Auth:      AuthorizerFunc(func(fingerprint string) bool { return fingerprint == cliFprint }),
		Statuses:  statuses,
		Inbox:     inbox,
		ConfigDir: configDir,
		Alias:     "station_config.toml",
		Log:       zap.NewNop().Sugar(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go svr.ServeTLS(ln, "", "")
	defer svr.Close()

	base := "https://" + ln.Addr().String()
	cli := NewStationClient(base, cliCert, time.Second*5, AuthorizerFunc(func(fingerprint string) bool {
		return fingerprint == svrFprint
	}))

	t.Run("status", func(t *testing.T) {
		resp, err := cli.GET(ctx, "/status")
		require.NoError(t, err)
		defer resp.Body.Close()

		snapshot := map[string]worker.StatusEvent{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&snapshot))
		require.Contains(t, snapshot, "heartbeat")
		assert.Equal(t, worker.StateRunning, snapshot["heartbeat"].State)
	})

	t.Run("command", func(t *testing.T) {
		resp, err := cli.POST(ctx, "/command", strings.NewReader("uptime\n"))
		require.NoError(t, err)
		defer resp.Body.Close()

		accepted := CommandAccepted{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&accepted))
		assert.NotEmpty(t, accepted.CommandID)

		req, err := inbox.Poll(ctx)
		require.NoError(t, err)
		require.NotNil(t, req)
		assert.Equal(t, "uptime", req.Text)
		assert.Equal(t, accepted.CommandID, req.ID)
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := cli.POST(ctx, "/command", strings.NewReader("  \n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	})

	t.Run("config", func(t *testing.T) {
		resp, err := cli.GET(ctx, "/config")
		require.NoError(t, err)
		defer resp.Body.Close()

		info := ConfigInfo{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
		assert.Equal(t, "station_config_7.toml", info.File)
		assert.Equal(t, 7, info.Version)
	})

	t.Run("untrusted client", func(t *testing.T) {
		otherCert, _, err := EnsureCertificate(t.TempDir())
		require.NoError(t, err)
		other := NewStationClient(base, otherCert, time.Second*5, AuthorizerFunc(func(fingerprint string) bool {
			return fingerprint == svrFprint
		}))

		e := &UntrustedClientError{}
		_, err = other.GET(ctx, "/status")
		require.ErrorAs(t, err, &e)
	})

	t.Run("untrusted server", func(t *testing.T) {
		paranoid := NewStationClient(base, cliCert, time.Second*5, AuthorizerFunc(func(string) bool { return false }))

		e := &UntrustedServerError{}
		_, err := paranoid.GET(ctx, "/status")
		require.ErrorAs(t, err, &e)
		assert.Equal(t, svrFprint, e.Fingerprint)
	})
}
