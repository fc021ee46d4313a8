package block

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := GenerateKeyPair()
	require.NoError(t, err)

	msg := []byte("payload to sign")
	sig := Sign(priv, msg)
	require.True(t, Verify(pub, msg, sig))
	require.False(t, Verify(pub, []byte("tampered"), sig))
}

// TestConcurrentSigningThroughPool drives many concurrent Sign/Verify
// calls, each with its own key pair and message, to confirm the
// shared worker pool never mixes up one caller's job with another's.
func TestConcurrentSigningThroughPool(t *testing.T) {
	const n = 64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			pub, priv, err := GenerateKeyPair()
			require.NoError(t, err)
			msg := []byte{byte(i), byte(i >> 8)}
			sig := Sign(priv, msg)
			require.True(t, Verify(pub, msg, sig))
		}(i)
	}
	wg.Wait()
}
