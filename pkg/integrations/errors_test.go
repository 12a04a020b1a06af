package integrations

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/fitglue/workoutsync/pkg/types"
)

func TestFromOAuthError(t *testing.T) {
	rejected := &oauth2.RetrieveError{
		Response:         &http.Response{StatusCode: http.StatusBadRequest},
		Body:             []byte(`{"error":"invalid_grant","error_description":"Code already used"}`),
		ErrorCode:        "invalid_grant",
		ErrorDescription: "Code already used",
	}
	err := FromOAuthError(types.ProviderHuawei, rejected)
	var ae *VendorAuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusBadRequest, ae.StatusCode)
	assert.Equal(t, "Code already used", ae.Message)
	assert.Contains(t, err.Error(), "huawei")

	outage := &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadGateway}}
	assert.True(t, IsTransient(FromOAuthError(types.ProviderHuawei, outage)))

	assert.True(t, IsTransient(FromOAuthError(types.ProviderHuawei, errors.New("dial tcp: timeout"))))
	assert.NoError(t, FromOAuthError(types.ProviderHuawei, nil))
}

func TestVendorMessage(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"message":"Bad Request"}`, "Bad Request"},
		{`{"error":"invalid_grant"}`, "invalid_grant"},
		{`{"error":1101,"sub_error":20152}`, "1101"},
		{`plain text failure`, "plain text failure"},
		{``, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VendorMessage([]byte(tt.body)), tt.body)
	}
}
