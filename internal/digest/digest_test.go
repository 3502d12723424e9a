package digest_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gridhq/gridauth/internal/digest"
)

func TestStateDeterministic(t *testing.T) {
	salt, err := digest.NewSalt()
	require.NoError(t, err)

	first := digest.State("state-nonce", salt)
	second := digest.State("state-nonce", salt)
	require.Equal(t, first, second)
	require.NotEmpty(t, first)
}

func TestStateSaltAndInputSensitive(t *testing.T) {
	saltA, err := digest.NewSalt()
	require.NoError(t, err)
	saltB, err := digest.NewSalt()
	require.NoError(t, err)

	require.NotEqual(t, digest.State("nonce", saltA), digest.State("nonce", saltB))
	require.NotEqual(t, digest.State("nonce", saltA), digest.State("other", saltA))
}

func TestNewSaltUnique(t *testing.T) {
	a, err := digest.NewSalt()
	require.NoError(t, err)
	b, err := digest.NewSalt()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.Len(t, a, 32)
}
