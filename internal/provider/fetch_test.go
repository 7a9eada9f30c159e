package provider

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"93.184.216.34", true},
		{"2606:2800:220:1:248:1893:25c8:1946", true},
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"172.16.0.9", false},
		{"192.168.1.1", false},
		{"169.254.169.254", false},
		{"100.64.0.1", false},
		{"0.0.0.0", false},
		{"fe80::1", false},
		{"fd00::1", false},
		{"::ffff:127.0.0.1", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, PublicIP(net.ParseIP(tt.ip)), tt.ip)
	}
}

func TestCheckFetchURL(t *testing.T) {
	assert.NoError(t, CheckFetchURL("https://cdn.example.com/ref.mp3"))
	assert.NoError(t, CheckFetchURL("http://cdn.example.com/ref.mp3?sig=1"))

	for _, raw := range []string{"file:///etc/passwd", "ftp://cdn.example.com/a.mp3", "http:///nohost", "://bad", "cdn.example.com/a.mp3"} {
		assert.ErrorIs(t, CheckFetchURL(raw), ErrUnsafeURL, raw)
	}
}

func TestNewFetchClient_DialGuard(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secret"))
	}))
	t.Cleanup(srv.Close)

	_, err := NewFetchClient(5*time.Second, false).R().Get(srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsafeURL)

	resp, err := NewFetchClient(5*time.Second, true).R().Get(srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "secret", resp.String())
}
