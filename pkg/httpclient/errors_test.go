package httpclient

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeResponse(status int, body string) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}
}

func TestParseResponseError_Structured(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusBadRequest, `{"error":{"message":"Invalid image file"}}`), "cdn")

	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "Invalid image file", err.Message)
	assert.Equal(t, "cdn returned status 400: Invalid image file", err.Error())
}

func TestParseResponseError_StructuredWithCode(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusNotFound, `{"error":{"code":"NOT_FOUND","message":"gone"}}`), "cdn")
	assert.Equal(t, "NOT_FOUND: gone", err.Message)
}

func TestParseResponseError_Unstructured(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusBadGateway, "<html>bad gateway</html>\n"), "cdn")
	assert.Equal(t, "<html>bad gateway</html>", err.Message)
}

func TestParseResponseError_EmptyBody(t *testing.T) {
	err := ParseResponseError(makeResponse(http.StatusUnauthorized, ""), "cdn")
	assert.Equal(t, "Unauthorized", err.Message)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, IsClientError(http.StatusBadRequest))
	assert.True(t, IsClientError(499))
	assert.False(t, IsClientError(http.StatusInternalServerError))
	assert.False(t, IsClientError(http.StatusOK))

	assert.True(t, IsAuthError(http.StatusUnauthorized))
	assert.True(t, IsAuthError(http.StatusForbidden))
	assert.False(t, IsAuthError(http.StatusBadRequest))
}
