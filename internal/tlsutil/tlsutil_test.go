package tlsutil

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTLSConfig(t *testing.T) {
	cfg := DefaultTLSConfig()
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.ElementsMatch(t, aeadSuites, cfg.CipherSuites)

	// 返回副本，修改不影响后续调用
	cfg.CipherSuites[0] = 0
	assert.NotEqual(t, uint16(0), DefaultTLSConfig().CipherSuites[0])
}

func TestServerTLSConfig(t *testing.T) {
	t.Run("plain http", func(t *testing.T) {
		cfg, err := ServerTLSConfig("", "")
		require.NoError(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("half configured", func(t *testing.T) {
		_, err := ServerTLSConfig("cert.pem", "")
		assert.Error(t, err)
	})

	t.Run("unreadable key pair", func(t *testing.T) {
		dir := t.TempDir()
		cert := filepath.Join(dir, "cert.pem")
		key := filepath.Join(dir, "key.pem")
		require.NoError(t, os.WriteFile(cert, []byte("not a cert"), 0o600))
		require.NoError(t, os.WriteFile(key, []byte("not a key"), 0o600))

		_, err := ServerTLSConfig(cert, key)
		assert.ErrorContains(t, err, "load key pair")
	})
}

func TestSecureTransport(t *testing.T) {
	tr := SecureTransport(4)
	require.NotNil(t, tr.TLSClientConfig)
	assert.Equal(t, uint16(tls.VersionTLS12), tr.TLSClientConfig.MinVersion)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.Equal(t, 4, tr.MaxIdleConnsPerHost)

	assert.Equal(t, 8, SecureTransport(0).MaxIdleConnsPerHost)
}

func TestSecureHTTPClient(t *testing.T) {
	client := SecureHTTPClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, client.Timeout)
	assert.NotNil(t, client.Transport)
}
