package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuntimeError_Helpers(t *testing.T) {
	unknown := NewUnknownOperationError("fetchWidget")
	wrapped := fmt.Errorf("dispatch: %w", unknown)

	assert.True(t, IsUnknownOperation(wrapped))
	assert.False(t, IsStopped(wrapped))
	assert.Equal(t, `UNKNOWN_OPERATION: operation kind "fetchWidget" is not in the catalog (op=fetchWidget)`, unknown.Error())

	assert.True(t, IsStopped(NewStoppedError()))
	assert.True(t, IsInvalidIntent(NewInvalidIntentError("upsert requires a key")))
	assert.False(t, IsInvalidIntent(errors.New("plain")))
}

func TestNormalizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"plain", errors.New("network down"), "network down"},
		{"remote", &RemoteError{Code: "not_found", Message: "no such user"}, "no such user"},
		{"wrapped remote", fmt.Errorf("call: %w", &RemoteError{Message: "quota"}), "quota"},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), "timeout"},
		{"canceled", context.Canceled, "canceled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeError(tt.err))
		})
	}
}

func TestRemoteError_Error(t *testing.T) {
	assert.Equal(t, "not_found: gone", (&RemoteError{Code: "not_found", Message: "gone"}).Error())
	assert.Equal(t, "gone", (&RemoteError{Message: "gone"}).Error())
}
