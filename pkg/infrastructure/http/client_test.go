package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Direct(t *testing.T) {
	c, err := NewClient(0, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, c.Timeout)
}

func TestNewClient_HTTPProxy(t *testing.T) {
	var seen string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.String()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer proxySrv.Close()

	c, err := NewClient(5*time.Second, proxySrv.URL)
	require.NoError(t, err)

	resp, err := c.Get("http://health-api.cloud.huawei.com/healthkit/v1/activityRecords")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://health-api.cloud.huawei.com/healthkit/v1/activityRecords", seen)
}

func TestNewClient_Socks(t *testing.T) {
	for _, raw := range []string{"socks5://127.0.0.1:1080", "socks5h://user:pw@proxy.internal:1080"} {
		c, err := NewClient(time.Second, raw)
		require.NoError(t, err, raw)
		tr := c.Transport.(*http.Transport)
		assert.Nil(t, tr.Proxy)
		assert.NotNil(t, tr.DialContext)
	}
}

func TestParseProxyURL_Invalid(t *testing.T) {
	for _, raw := range []string{"ftp://proxy:21", "socks5://", "::nope"} {
		_, err := ParseProxyURL(raw)
		assert.Error(t, err, raw)
	}
}
