package bunny

import (
	"crypto/tls"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, "localhost:3000", config.Address())
	assert.True(t, config.AutoReconnect)
	assert.Equal(t, "linear", config.Reconnect.Strategy)
}

func TestConfigValidate(t *testing.T) {
	config := DefaultConfig()
	config.Host = ""
	config.Port = 0
	config.Transport = "udp"
	config.Reconnect.Strategy = "random"
	config.Reconnect.MaxAttempts = -1
	config.CommandTimeout = -time.Second

	err := config.Validate()
	require.Error(t, err)
	assert.Equal(t, CommandError, CodeOf(err))
	for _, fragment := range []string{"host is required", "port must be", "transport", "reconnect.strategy", "max_attempts", "timeouts"} {
		assert.Contains(t, err.Error(), fragment)
	}
}

func TestNewClientRejectsInvalidConfig(t *testing.T) {
	config := DefaultConfig()
	config.Port = 70000
	_, err := NewClient(config)
	assert.Error(t, err)
}

func TestNewClientFillsDefaults(t *testing.T) {
	client, err := NewClient(Config{Host: "broker", Port: 4000})
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, TransportTCP, client.config.Transport)
	assert.Equal(t, DefaultConfig().DialTimeout, client.config.DialTimeout)
	assert.IsType(t, &TCPDialer{}, client.dialer)
	assert.Equal(t, "broker:4000", client.chooser.CurrentAddress())
	assert.NotEmpty(t, client.SessionID())
	assert.Equal(t, StateDisconnected, client.State())
}

func TestConfigTLS(t *testing.T) {
	config := DefaultConfig()
	assert.Nil(t, config.tlsConfig())

	config.TLS = true
	tlsConfig := config.tlsConfig()
	require.NotNil(t, tlsConfig)
	assert.Equal(t, "localhost", tlsConfig.ServerName)
	assert.False(t, tlsConfig.InsecureSkipVerify)
	assert.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)

	config.TLSConfig = &tls.Config{ServerName: "custom"}
	config.TLSInsecureSkipVerify = true
	tlsConfig = config.tlsConfig()
	assert.Equal(t, "custom", tlsConfig.ServerName)
	assert.True(t, tlsConfig.InsecureSkipVerify)
	assert.False(t, config.TLSConfig.InsecureSkipVerify)
}

func TestConfigDialerSelection(t *testing.T) {
	config := DefaultConfig()
	assert.IsType(t, &TCPDialer{}, config.dialer())

	config.Transport = TransportWebSocket
	config.WebSocketPath = "/mq"
	dialer, ok := config.dialer().(*WebSocketDialer)
	require.True(t, ok)
	assert.Equal(t, "/mq", dialer.Path)
}

func TestConfigAddresses(t *testing.T) {
	config := DefaultConfig()
	config.Failover = []string{"backup:3001", "dr:3002"}
	assert.Equal(t, []string{"localhost:3000", "backup:3001", "dr:3002"}, config.addresses())
}
