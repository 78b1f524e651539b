package errs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_AllCodesCovered(t *testing.T) {
	require.NoError(t, Validate())
}

func TestMessage_FallsBackToEnglish(t *testing.T) {
	require.Equal(t, Message(LocaleEN, InvalidParameter), Message(Locale("fr"), InvalidParameter))
}

func TestError_UnwrapsCause(t *testing.T) {
	cause := New(DatabaseError, "boom")
	wrapped := Wrap(LLMCallFailed, "outer", cause)
	require.ErrorIs(t, wrapped, cause)
}
