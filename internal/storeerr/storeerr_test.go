package storeerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotFound_Kind(t *testing.T) {
	err := NotFound("Patient", "123")
	assert.Equal(t, KindNotFound, err.Kind())
	assert.Contains(t, err.Error(), "Patient/123")
}

func TestVersionConflict_Message(t *testing.T) {
	err := VersionConflict("Patient", "P1", 1, 2)
	assert.Equal(t, KindVersionConflict, err.Kind())
	assert.Contains(t, err.Error(), "expected 1")
	assert.Contains(t, err.Error(), "current 2")
}

func TestInvalidResource_Unwraps(t *testing.T) {
	cause := fmt.Errorf("missing resourceType")
	err := InvalidResource("invalid Patient body", cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindInvalidResource, err.Kind())
}

func TestKindOf_WrappedError(t *testing.T) {
	base := Gone("Patient", "P1")
	wrapped := fmt.Errorf("read failed: %w", base)
	assert.Equal(t, KindGone, KindOf(wrapped))
}

func TestKindOf_UnclassifiedDefaultsToInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(fmt.Errorf("boom")))
}

func TestUnavailable_WrapsCause(t *testing.T) {
	cause := fmt.Errorf("dial tcp: timeout")
	err := Unavailable("terminology", cause)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindUnavailable, err.Kind())
}
