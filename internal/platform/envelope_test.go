package platform

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"thirdcoast.systems/shelf/internal/governor"
)

type page struct {
	Page int    `json:"page"`
	Part string `json:"part"`
}

func TestDecode(t *testing.T) {
	data, err := Decode[[]page](strings.NewReader(`{"code":0,"data":[{"page":1,"part":"intro"}]}`))
	require.NoError(t, err)
	require.Equal(t, []page{{Page: 1, Part: "intro"}}, data)
}

func TestDecode_APIError(t *testing.T) {
	_, err := Decode[[]page](strings.NewReader(`{"code":-404,"message":"啥都木有"}`))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, -404, apiErr.Code)
	require.Equal(t, "啥都木有", apiErr.Message)
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode[[]page](strings.NewReader(`<html>`))
	require.ErrorIs(t, err, ErrMalformedPayload)
}

func TestFetch_ThroughGovernor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(`{"code":0,"data":[{"page":2,"part":"b"}]}`))
	}))
	defer srv.Close()

	g := governor.New(governor.Config{MaxQPS: 1000, Header: DefaultHeader()})
	ep := NewEndpoints(srv.URL, srv.URL)
	data, err := Fetch[[]page](context.Background(), g, ep.PageList())
	require.NoError(t, err)
	require.Equal(t, 2, data[0].Page)
}

func TestEndpoints(t *testing.T) {
	ep := NewEndpoints(" http://api.test/ ", "")
	require.Equal(t, "http://api.test/x/player/pagelist", ep.PageList())
	require.Equal(t, "https://www.bilibili.com/video/BV1xx", ep.VideoPage("BV1xx"))
	require.Equal(t, DefaultEndpoints(), NewEndpoints("", ""))
}

func TestNormalizeURL(t *testing.T) {
	require.Equal(t, "https://i0.hdslb.com/a.jpg", NormalizeURL("//i0.hdslb.com/a.jpg"))
	require.Equal(t, "http://x/a.jpg", NormalizeURL("http://x/a.jpg"))
	require.Equal(t, "", NormalizeURL(""))
}
