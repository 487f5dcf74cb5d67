package failures

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "untagged", err: base, expected: KindInternal},
		{name: "tagged", err: Wrap(KindParse, "parse", base), expected: KindParse},
		{name: "wrapped tagged", err: fmt.Errorf("outer: %w", Wrap(KindAuth, "open", base)), expected: KindAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, KindOf(tt.err))
		})
	}
}

func TestWrapKeepsChain(t *testing.T) {
	base := errors.New("boom")
	err := Wrap(KindStorage, "upsert", base)

	assert.ErrorIs(t, err, base)
	assert.Equal(t, "upsert: boom", err.Error())
	assert.Nil(t, Wrap(KindStorage, "upsert", nil))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, HTTPStatus(KindValidation))
	assert.Equal(t, http.StatusConflict, HTTPStatus(KindConflict))
	assert.Equal(t, http.StatusBadGateway, HTTPStatus(KindNetwork))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(KindNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(KindStorage))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(Wrap(KindConfig, "load", ErrMissingEnv)))
	assert.Equal(t, 2, ExitCode(Newf(KindConfig, "load", "bad value")))
	assert.Equal(t, 130, ExitCode(Newf(KindAbort, "run", "interrupted")))
	assert.Equal(t, 1, ExitCode(errors.New("other")))
}
