package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderDoesNotMutateReceiver(t *testing.T) {
	base := NotFound().WithInfo("units")
	derived := base.WithMessage("Key does not exist").WithMethod("update").WithInfo("extra")

	assert.Empty(t, base.Message)
	assert.Equal(t, []string{"units"}, base.Info)
	assert.Equal(t, []string{"units", "extra"}, derived.Info)
	assert.Equal(t, "update", derived.Method)
	assert.False(t, derived.Timestamp.IsZero())
}

func TestErrorString(t *testing.T) {
	err := Duplicate().WithMethod("insert_by_key").WithInfo("runs").WithMessage("Key already exists")
	assert.Equal(t, "Duplicate in insert_by_key: Key already exists (runs)", err.Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("provision: %w", InsufficientBalance().WithMessage("short"))

	assert.Equal(t, KindInsufficientBalance, KindOf(wrapped))
	assert.True(t, errors.Is(wrapped, InsufficientBalance()))
	assert.False(t, errors.Is(wrapped, NotFound()))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestFrom(t *testing.T) {
	require.Nil(t, From(nil))

	converted := From(errors.New("dial tcp: refused"))
	assert.Equal(t, KindInternal, converted.Kind)
	assert.Equal(t, "dial tcp: refused", converted.Message)

	original := Unauthorized().WithMessage("Anonymous caller not allowed.")
	assert.Same(t, original, From(fmt.Errorf("wrap: %w", original)))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindNotFound, http.StatusNotFound},
		{KindBadRequest, http.StatusBadRequest},
		{KindUnauthorized, http.StatusUnauthorized},
		{KindDuplicate, http.StatusConflict},
		{KindInsufficientBalance, http.StatusPaymentRequired},
		{KindUnsupported, http.StatusUnsupportedMediaType},
		{KindNotImplemented, http.StatusNotImplemented},
		{KindInternal, http.StatusInternalServerError},
		{KindSerialize, http.StatusInternalServerError},
		{KindDeserialize, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}
