package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(Conflict, "sample", "sample conflict")

func TestKindOfWrappedSentinel(t *testing.T) {
	err := fmt.Errorf("issue book: %w", errSample)

	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, "sample", CodeOf(err))
	assert.Equal(t, "sample conflict", MessageOf(err))
	assert.True(t, errors.Is(err, errSample))
	assert.Equal(t, http.StatusConflict, KindOf(err).HTTPStatus())
}

func TestWrapKeepsIdentity(t *testing.T) {
	cause := errors.New("boom")
	err := errSample.Wrap(cause)

	assert.ErrorIs(t, err, errSample)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "sample conflict: boom", err.Error())
}

func TestUnclassifiedIsInternal(t *testing.T) {
	err := errors.New("connection refused")

	assert.Equal(t, Internal, KindOf(err))
	assert.Equal(t, "internal_error", CodeOf(err))
	assert.Equal(t, "Something went wrong!", MessageOf(err))
	assert.Equal(t, http.StatusInternalServerError, KindOf(err).HTTPStatus())
}

func TestInternalErrorsHideMessage(t *testing.T) {
	err := New(Internal, "db", "database exploded")
	assert.Equal(t, "Something went wrong!", MessageOf(err))
}
