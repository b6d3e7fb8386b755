package alphavantage_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"quotehub/internal/provider/alphavantage"
)

func TestNewAlphaVantageAPIClient(t *testing.T) {
	t.Parallel()

	// Assert: a valid key should return a client.
	client, err := alphavantage.NewAlphaVantageAPIClient("test")
	require.NoErrorf(t, err, "unexpected error: %v", err)
	require.NotNilf(t, client, "unexpected nil client")
}

func TestWithHTTPClient(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: stub the Do method and check the default query parameters
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "test", req.URL.Query().Get("apikey"))
			require.Equal(t, "GLOBAL_QUOTE", req.URL.Query().Get("function"))
			require.Equal(t, "IBM", req.URL.Query().Get("symbol"))
			require.Equal(t, "www.alphavantage.co", req.URL.Host)
			return jsonResponse(t, http.StatusOK, map[string]any{}), nil
		}).
		Times(1)

	// Arrange: create a new client with a custom HTTP client.
	client, err := alphavantage.NewAlphaVantageAPIClient("test", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Query with the custom HTTP client.
	_, err = client.Query(t.Context(), "GLOBAL_QUOTE", "IBM", nil)
	require.NoError(t, err)
}

func TestWithBaseURLAndHeader(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock http client
	httpClient := NewMockHTTPClient(ctrl)

	// Assert: the request goes to the overridden host with the extra header
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "example.test", req.URL.Host)
			require.Equal(t, "/query", req.URL.Path)
			require.Equal(t, "quotehub-test", req.Header.Get("User-Agent"))
			return jsonResponse(t, http.StatusOK, map[string]any{}), nil
		}).
		Times(1)

	client, err := alphavantage.NewAlphaVantageAPIClient("test",
		alphavantage.WithHTTPClient(httpClient),
		alphavantage.WithBaseURL("https://example.test"),
		alphavantage.WithHeader(http.Header{"User-Agent": []string{"quotehub-test"}}),
	)
	require.NoError(t, err)

	// Act: call Query
	_, err = client.Query(t.Context(), "OVERVIEW", "IBM", nil)
	require.NoError(t, err)
}

func TestQuery_ErrCreatingRequest(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller
	ctrl := gomock.NewController(t)

	// Arrange: create a mock HTTP client that must not be called
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Times(0)

	client, err := alphavantage.NewAlphaVantageAPIClient("", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)

	// Act: call Query with an invalid base URL
	body, err := client.Query(t.Context(), "GLOBAL_QUOTE", "IBM", nil, alphavantage.WithBaseURL(string([]rune{0x7f})))
	require.Error(t, err)
	require.Nil(t, body)
}

func TestQuery_StatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status int
		target error
	}{
		{http.StatusTooManyRequests, alphavantage.ErrRateLimited},
		{http.StatusUnauthorized, alphavantage.ErrUnauthorized},
		{http.StatusForbidden, alphavantage.ErrUnauthorized},
		{http.StatusInternalServerError, nil},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			t.Parallel()

			// Arrange: create a mock HTTP client
			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().
				Do(gomock.Any()).
				DoAndReturn(func(req *http.Request) (*http.Response, error) {
					return &http.Response{StatusCode: tc.status, Body: io.NopCloser(bytes.NewReader(nil))}, nil
				}).
				Times(1)

			client, err := alphavantage.NewAlphaVantageAPIClient("", alphavantage.WithHTTPClient(httpClient))
			require.NoError(t, err)

			// Act: call Query
			body, err := client.Query(t.Context(), "GLOBAL_QUOTE", "IBM", nil)

			// Assert: the status is mapped to an error
			require.Error(t, err)
			require.Nil(t, body)
			if tc.target != nil {
				require.ErrorIs(t, err, tc.target)
			}
		})
	}
}

func TestQuery_RateLimitPayload(t *testing.T) {
	t.Parallel()

	for _, key := range []string{"Information", "Note"} {
		t.Run(key, func(t *testing.T) {
			t.Parallel()

			// Arrange: the upstream answers 200 with a quota message
			ctrl := gomock.NewController(t)
			httpClient := NewMockHTTPClient(ctrl)
			httpClient.EXPECT().
				Do(gomock.Any()).
				Return(jsonResponse(t, http.StatusOK, map[string]any{
					key: "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day.",
				}), nil).
				Times(1)

			client, err := alphavantage.NewAlphaVantageAPIClient("", alphavantage.WithHTTPClient(httpClient))
			require.NoError(t, err)

			// Act: call GetGlobalQuote
			_, err = client.GetGlobalQuote(t.Context(), "IBM")

			// Assert: the payload is reported as rate limited
			require.ErrorIs(t, err, alphavantage.ErrRateLimited)
		})
	}
}

func TestQuery_ErrorMessagePayload(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		Return(jsonResponse(t, http.StatusOK, map[string]any{
			"Error Message": "Invalid API call. Please retry or visit the documentation.",
		}), nil).
		Times(1)

	client, err := alphavantage.NewAlphaVantageAPIClient("", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)

	_, err = client.GetTimeSeries(t.Context(), alphavantage.SeriesDaily, "NOPE")
	require.ErrorIs(t, err, alphavantage.ErrInvalidCall)
}

func TestQuery_ErrDecodingResponse(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	httpClient := NewMockHTTPClient(ctrl)
	httpClient.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(bytes.NewBufferString("invalid json")),
			}, nil
		}).
		Times(1)

	client, err := alphavantage.NewAlphaVantageAPIClient("", alphavantage.WithHTTPClient(httpClient))
	require.NoError(t, err)

	body, err := client.Query(t.Context(), "GLOBAL_QUOTE", "IBM", nil)
	require.Error(t, err)
	require.Nil(t, body)
}

// jsonResponse encodes v as a JSON response body.
func jsonResponse(t *testing.T, status int, v any) *http.Response {
	t.Helper()
	buffer := &bytes.Buffer{}
	require.NoError(t, json.NewEncoder(buffer).Encode(v))
	return &http.Response{StatusCode: status, Body: io.NopCloser(buffer)}
}

// fixtureResponse serves a file from fixtures/ as a 200 response.
func fixtureResponse(t *testing.T, name string) *http.Response {
	t.Helper()
	f, err := os.Open("fixtures/" + name)
	require.NoError(t, err)
	return &http.Response{StatusCode: http.StatusOK, Body: f}
}
