package poderr

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindForStatus(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusOK, nil},
		{http.StatusCreated, nil},
		{http.StatusNoContent, nil},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusGone, ErrNotFound},
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusBadRequest, ErrProtocol},
		{http.StatusConflict, ErrProtocol},
		{http.StatusInternalServerError, ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, KindForStatus(tt.code))
		})
	}
}

func TestFromResponse_MessageCarriesRequest(t *testing.T) {
	err := FromResponse("pod.GetDocument", http.MethodGet, "https://pod.example/todos/a.ttl", 404, []byte("missing\n"))

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "GET https://pod.example/todos/a.ttl")
	assert.Contains(t, err.Error(), "HTTP 404")
	assert.Contains(t, err.Error(), "missing")
}

func TestFromResponse_TruncatesLongBody(t *testing.T) {
	body := []byte(strings.Repeat("x", 2000))
	err := FromResponse("op", http.MethodPut, "https://pod.example/a", 500, body)

	assert.Len(t, err.Description, maxDescription+3)
	assert.True(t, strings.HasSuffix(err.Description, "..."))
}

func TestWrap_ExposesKindAndCause(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(ErrTransport, "authflow.Discover", cause)

	assert.ErrorIs(t, err, ErrTransport)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrProtocol)
	assert.Equal(t, "authflow.Discover: transport error: dial tcp: connection refused", err.Error())
}

func TestErrorsAs(t *testing.T) {
	var target *Error

	wrapped := errors.Join(errors.New("context"), NotFound("pod.Resolve", "folder %q not found", "todos"))
	assert.ErrorAs(t, wrapped, &target)
	assert.Equal(t, ErrNotFound, target.Kind)
	assert.Equal(t, `pod.Resolve: not found: folder "todos" not found`, target.Error())
}
