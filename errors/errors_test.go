package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindOperationFailed, "operation_failed"},
		{KindBadParameter, "bad_parameter"},
		{KindTimeout, "timeout"},
		{KindNotSupportedVersion, "not_supported_version"},
		{KindIncorrectAPIUse, "incorrect_api_use"},
		{KindSystem, "system"},
		{KindParseError, "parse_error"},
		{Kind(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestNewAndKindOf(t *testing.T) {
	err := New(KindTimeout, "queue wait exceeded")
	assert.EqualError(t, err, "queue wait exceeded")
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.True(t, IsTimeout(err))
	assert.False(t, IsBadParameter(err))
}

func TestNewf(t *testing.T) {
	err := Newf(KindBadParameter, "port %d out of range", 70000)
	assert.EqualError(t, err, "port 70000 out of range")
	assert.True(t, IsBadParameter(err))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := Wrap(cause, KindSystem, "error connecting to host:8778")
	require.Error(t, err)
	assert.EqualError(t, err, "error connecting to host:8778: connection refused")
	assert.True(t, stderrors.Is(err, cause))
	assert.True(t, IsSystem(err))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, KindSystem, "ignored"))
	assert.NoError(t, Wrapf(nil, KindSystem, "ignored %d", 1))
}

func TestKindSurvivesWrapping(t *testing.T) {
	inner := New(KindNotSupportedVersion, "protocol version data is missing")
	outer := fmt.Errorf("modelzoo: %w", inner)
	assert.True(t, IsNotSupportedVersion(outer))
	assert.Equal(t, KindNotSupportedVersion, KindOf(outer))
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindOperationFailed, KindOf(stderrors.New("plain")))
	assert.False(t, IsKind(nil, KindOperationFailed))
}
