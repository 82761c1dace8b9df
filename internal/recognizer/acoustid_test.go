package recognizer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/tracktagger-go/internal/conf"
	"github.com/tphakala/tracktagger-go/internal/httpclient"
)

const testAcoustIDEndpoint = "https://lookup.example.com/v2/lookup"

func newTestAcoustID(t *testing.T) *AcoustIDProvider {
	t.Helper()

	settings := &conf.Settings{}
	settings.Realtime.Recognition.Timeout = 5
	settings.Realtime.Recognition.AcoustID.APIKey = "test-key"
	settings.Realtime.Recognition.AcoustID.Endpoint = testAcoustIDEndpoint

	client := httpclient.New(nil)
	httpmock.ActivateNonDefault(client.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	return NewAcoustID(settings, client)
}

func acoustIDMatchResponse() string {
	return `{
		"status": "ok",
		"results": [
			{"id": "low-score", "score": 0.42},
			{
				"id": "aid-789",
				"score": 0.97,
				"recordings": [{
					"title": "Hey Jude",
					"artists": [{"name": "The Beatles"}],
					"releases": [
						{"title": "Compilation", "country": "XW"},
						{"title": "Hey Jude Single", "country": "GB", "date": {"year": 1968}}
					]
				}]
			}
		]
	}`
}

func TestAcoustIDLookupAndParse(t *testing.T) {
	p := newTestAcoustID(t)
	httpmock.RegisterResponder(http.MethodPost, testAcoustIDEndpoint,
		httpmock.NewStringResponder(http.StatusOK, acoustIDMatchResponse()))

	resp, raw, err := p.lookup(context.Background(), "AQAA-fingerprint", 12)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "aid-789", "raw body is returned verbatim")

	result := p.parseResponse(resp)
	require.True(t, result.IsMatch(), "error_message=%q", result.ErrorMessage)
	assert.Equal(t, "acoustid", result.Provider)
	assert.Equal(t, "aid-789", result.ProviderTrackID, "best score wins")
	assert.Equal(t, "Hey Jude", result.Title)
	assert.Equal(t, "The Beatles", result.Artist)
	assert.Equal(t, "Hey Jude Single", result.Album, "dated release preferred")
	assert.InDelta(t, 0.97, result.Confidence, 1e-9)
}

func TestAcoustIDLookupSendsForm(t *testing.T) {
	p := newTestAcoustID(t)

	var gotForm string
	httpmock.RegisterResponder(http.MethodPost, testAcoustIDEndpoint,
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseForm())
			gotForm = req.PostForm.Encode()
			return httpmock.NewStringResponse(http.StatusOK, `{"status":"ok","results":[]}`), nil
		})

	resp, _, err := p.lookup(context.Background(), "AQAA-fp", 12)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)

	assert.Contains(t, gotForm, "client=test-key")
	assert.Contains(t, gotForm, "fingerprint=AQAA-fp")
	assert.Contains(t, gotForm, "duration=12")
	assert.Contains(t, gotForm, "format=json")
}

func TestAcoustIDParseNoResults(t *testing.T) {
	p := newTestAcoustID(t)
	result := p.parseResponse(&acoustIDResponse{Status: "ok"})
	assert.True(t, result.IsNoMatch())
}

func TestAcoustIDParseErrorResponse(t *testing.T) {
	p := newTestAcoustID(t)

	var resp acoustIDResponse
	require.NoError(t, json.Unmarshal([]byte(
		`{"status":"error","error":{"message":"invalid API key"}}`), &resp))

	result := p.parseResponse(&resp)
	assert.True(t, result.IsError())
	assert.Equal(t, "invalid API key", result.ErrorMessage)
}

func TestAcoustIDParseBadStatus(t *testing.T) {
	p := newTestAcoustID(t)
	result := p.parseResponse(&acoustIDResponse{Status: "degraded"})
	assert.True(t, result.IsError())
	assert.Contains(t, result.ErrorMessage, "degraded")
}

func TestAcoustIDRecognizeFingerprintFailure(t *testing.T) {
	p := newTestAcoustID(t)
	p.fpcalcPath = "/nonexistent/fpcalc"

	result := p.Recognize(context.Background(), make([]byte, 4410))

	assert.True(t, result.IsError())
	assert.Contains(t, result.ErrorMessage, "failed to generate audio fingerprint")
}

func TestSelectBestRelease(t *testing.T) {
	dated := json.RawMessage(`{"year":1968}`)

	tests := []struct {
		name     string
		releases []acoustIDRelease
		want     string
	}{
		{
			"dated beats undated",
			[]acoustIDRelease{
				{Title: "Undated", Country: "US"},
				{Title: "Dated", Country: "XW", Date: dated},
			},
			"Dated",
		},
		{
			"major market breaks dated tie",
			[]acoustIDRelease{
				{Title: "Dated Elsewhere", Country: "XW", Date: dated},
				{Title: "Dated US", Country: "US", Date: dated},
			},
			"Dated US",
		},
		{
			"first remaining otherwise",
			[]acoustIDRelease{
				{Title: "First", Country: "AU"},
				{Title: "Second", Country: "NZ"},
			},
			"First",
		},
		{
			"null date is not a date",
			[]acoustIDRelease{
				{Title: "Null Date", Country: "US", Date: json.RawMessage(`null`)},
				{Title: "Real Date", Country: "XW", Date: dated},
			},
			"Real Date",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, selectBestRelease(tt.releases).Title)
		})
	}
}
