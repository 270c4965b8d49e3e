package failure_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/opportunity-indexer/internal/failure"
)

func TestKindOfWrapped(t *testing.T) {
	base := failure.New(failure.NotFound, "get opportunity", errors.New("no rows"))
	wrapped := fmt.Errorf("process line 3: %w", base)

	require.Equal(t, failure.NotFound, failure.KindOf(wrapped))
	require.True(t, failure.Is(wrapped, failure.NotFound))
	require.False(t, failure.Is(wrapped, failure.AuthError))
	require.Equal(t, failure.Unknown, failure.KindOf(errors.New("plain")))
	require.False(t, failure.Is(nil, failure.Unknown))
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		kind      failure.Kind
		fatal     bool
		retryable bool
	}{
		{failure.InvalidIdentifier, false, false},
		{failure.NotFound, false, false},
		{failure.AuthError, true, false},
		{failure.TransientError, false, true},
		{failure.IndexUnavailable, false, true},
		{failure.MappingConflict, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			require.Equal(t, tt.fatal, tt.kind.Fatal())
			require.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := failure.Newf(failure.InvalidIdentifier, "extract id", "no match in %q", "abc")
	require.Equal(t, `extract id: InvalidIdentifier: no match in "abc"`, err.Error())

	bare := failure.New(failure.AuthError, "", nil)
	require.Equal(t, "AuthError", bare.Error())
}

func TestKindMarshalsByName(t *testing.T) {
	data, err := json.Marshal(map[string]failure.Kind{"kind": failure.MappingConflict})
	require.NoError(t, err)
	require.JSONEq(t, `{"kind":"MappingConflict"}`, string(data))
}
