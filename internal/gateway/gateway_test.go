package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, basePath string) *Client {
	t.Helper()
	client := NewClient("gateway.test", basePath, nil, 30*time.Second)
	// Retries make transport-failure tests slow; a single attempt is enough
	// to exercise the error paths.
	client.client.RetryMax = 0
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return client
}

func TestGetJSON(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterResponder("GET", "https://gateway.test/apis/cfs/v2/configurations/compute",
		httpmock.NewStringResponder(200, `{"name": "compute", "layers": []}`))

	var out struct {
		Name string `json:"name"`
	}
	err := client.GetJSON(context.Background(), &out, nil, "configurations", "compute")
	require.NoError(t, err)
	assert.Equal(t, "compute", out.Name)
}

func TestGetJSONQueryParams(t *testing.T) {
	client := newTestClient(t, "smd/hsm/v2")

	httpmock.RegisterResponderWithQuery("GET", "https://gateway.test/apis/smd/hsm/v2/State/Components",
		url.Values{"role": []string{"Management"}, "type": []string{"Node"}},
		httpmock.NewStringResponder(200, `{"Components": []}`))

	params := url.Values{}
	params.Set("role", "Management")
	params.Set("type", "Node")

	var out struct {
		Components []struct{} `json:"Components"`
	}
	err := client.GetJSON(context.Background(), &out, params, "State", "Components")
	require.NoError(t, err)
}

func TestGetJSONErrorStatus(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterResponder("GET", "https://gateway.test/apis/cfs/v2/configurations/missing",
		httpmock.NewStringResponder(404, `{"title": "Not Found", "detail": "no such configuration"}`))

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), &out, nil, "configurations", "missing")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 404, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "Not Found")
	assert.Contains(t, apiErr.Error(), "no such configuration")
}

func TestGetJSONMalformedBody(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterResponder("GET", "https://gateway.test/apis/cfs/v2/configurations/bad",
		httpmock.NewStringResponder(200, `{not json`))

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), &out, nil, "configurations", "bad")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Contains(t, apiErr.Error(), "invalid JSON")
}

func TestGetJSONTransportError(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterNoResponder(httpmock.ConnectionFailure)

	var out map[string]interface{}
	err := client.GetJSON(context.Background(), &out, nil, "configurations", "unreachable")
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)
}

func TestPut(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterResponder("PUT", "https://gateway.test/apis/cfs/v2/configurations/compute",
		func(req *http.Request) (*http.Response, error) {
			var payload map[string]interface{}
			if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			assert.Contains(t, payload, "layers")
			return httpmock.NewStringResponse(200, `{"name": "compute", "layers": []}`), nil
		})

	var out struct {
		Name string `json:"name"`
	}
	body := map[string]interface{}{"layers": []interface{}{}}
	err := client.Put(context.Background(), &out, body, "configurations", "compute")
	require.NoError(t, err)
	assert.Equal(t, "compute", out.Name)
}

func TestPatch(t *testing.T) {
	client := newTestClient(t, "cfs/v2")

	httpmock.RegisterResponder("PATCH", "https://gateway.test/apis/cfs/v2/components/x3000c0s1b0n0",
		httpmock.NewStringResponder(200, `{}`))

	err := client.Patch(context.Background(), map[string]interface{}{"enabled": true}, "components", "x3000c0s1b0n0")
	require.NoError(t, err)
}
