package signing

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := New("k1", []byte("first-secret"))
	require.NoError(t, err)
	return s
}

func TestSignTruncated_RoundTrip(t *testing.T) {
	s := newSigner(t)
	for _, n := range []int{1, 6, 8, 11, 16, 22, MaxLength} {
		sig, err := s.SignTruncated("payload", "k1", n)
		require.NoError(t, err)
		assert.Len(t, sig, n)
		assert.True(t, s.VerifyTruncated("payload", sig, "k1", n), "length %d", n)
	}
}

func TestSignTruncated_IsPrefixOfFullSignature(t *testing.T) {
	s := newSigner(t)
	full, err := s.Sign("payload")
	require.NoError(t, err)
	short, err := s.SignTruncated("payload", "k1", 16)
	require.NoError(t, err)
	assert.Equal(t, full[:16], short)
}

func TestVerifyTruncated_RejectsAlteredSignature(t *testing.T) {
	s := newSigner(t)
	sig, err := s.SignTruncated("payload", "k1", 16)
	require.NoError(t, err)

	for i := range sig {
		b := []byte(sig)
		if b[i] == 'A' {
			b[i] = 'B'
		} else {
			b[i] = 'A'
		}
		assert.False(t, s.VerifyTruncated("payload", string(b), "k1", 16), "altered at %d", i)
	}
	assert.False(t, s.VerifyTruncated("payload!", sig, "k1", 16))
	assert.False(t, s.VerifyTruncated("payload", sig, "k1", 15))
}

func TestVerifyTruncated_UnknownKeyFailsClosed(t *testing.T) {
	s := newSigner(t)
	sig, err := s.SignTruncated("payload", "k1", 16)
	require.NoError(t, err)

	assert.False(t, s.VerifyTruncated("payload", sig, "missing", 16))

	_, err = s.SignTruncated("payload", "missing", 16)
	assert.ErrorIs(t, err, ErrUnknownKey)
}

func TestSignTruncated_InvalidLength(t *testing.T) {
	s := newSigner(t)
	for _, n := range []int{0, -1, MaxLength + 1} {
		_, err := s.SignTruncated("payload", "k1", n)
		assert.ErrorIs(t, err, ErrInvalidLength)
	}
}

func TestRotate_KeepsOldKeyForVerification(t *testing.T) {
	s := newSigner(t)
	old, err := s.SignTruncated("payload", s.CurrentKeyID(), 22)
	require.NoError(t, err)

	require.NoError(t, s.Rotate("k2", []byte("second-secret")))
	assert.Equal(t, "k2", s.CurrentKeyID())

	fresh, err := s.SignTruncated("payload", s.CurrentKeyID(), 22)
	require.NoError(t, err)
	assert.NotEqual(t, old, fresh)

	id, ok := s.VerifyAny("payload", old)
	assert.True(t, ok)
	assert.Equal(t, "k1", id)

	id, ok = s.VerifyAny("payload", fresh)
	assert.True(t, ok)
	assert.Equal(t, "k2", id)

	_, ok = s.VerifyAny("other", fresh)
	assert.False(t, ok)
}

func TestNew_RejectsEmptyKey(t *testing.T) {
	_, err := New("k1", nil)
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func TestSigner_ConcurrentUse(t *testing.T) {
	s := newSigner(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig, err := s.SignTruncated("payload", "k1", 16)
			assert.NoError(t, err)
			assert.True(t, s.VerifyTruncated("payload", sig, "k1", 16))
		}()
	}
	wg.Wait()
}
