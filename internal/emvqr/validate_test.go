package emvqr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValid_SingleByteCorruption(t *testing.T) {
	content := buildTestContent(t).Content
	require.True(t, IsValid(content))

	for i := 0; i < len(content); i++ {
		b := []byte(content)
		b[i] ^= 0x01
		assert.False(t, IsValid(string(b)), "flip at offset %d went unnoticed", i)
	}
}

func TestIsValid_MissingTags(t *testing.T) {
	var e Encoder
	e.Add("00", "01").Add("53", "704")
	body, err := e.String()
	require.NoError(t, err)

	ok, diags := checkCRC(body)
	assert.False(t, ok)
	joined := strings.Join(diags, "\n")
	assert.Contains(t, joined, "missing required tag 54")
	assert.Contains(t, joined, "missing required tag 63")
}

func TestIsValid_CRCCaseInsensitive(t *testing.T) {
	content := buildTestContent(t).Content
	lower := content[:len(content)-4] + strings.ToLower(content[len(content)-4:])
	assert.True(t, IsValid(lower))
}

func TestVerifySignature(t *testing.T) {
	signer := newTestSigner(t)
	built, err := NewBuilder(signer).Build(testPayment())
	require.NoError(t, err)

	assert.True(t, VerifySignature(built.Content, signer, "local-1"))
	assert.True(t, VerifySignature(built.Content, signer, ""))

	tampered := strings.Replace(built.Content, "540550000", "540560000", 1)
	require.NotEqual(t, built.Content, tampered)
	assert.False(t, VerifySignature(tampered, signer, "local-1"))
	assert.False(t, VerifySignature(tampered, signer, ""))

	otherID := strings.Replace(built.Content, testTxID, "4f2b8c1e-6d4a-4f7e-9b1a-2c5d8e7f6a90", 1)
	assert.False(t, VerifySignature(otherID, signer, ""))

	// the message is not covered by the signature
	rebuilt := testPayment()
	rebuilt.Message = "something else"
	other, err := NewBuilder(signer).Build(rebuilt)
	require.NoError(t, err)
	assert.Equal(t, built.Signature, other.Signature)
}

func TestVerifySignature_KeyRotation(t *testing.T) {
	signer := newTestSigner(t)
	built, err := NewBuilder(signer).Build(testPayment())
	require.NoError(t, err)

	require.NoError(t, signer.Rotate("local-2", []byte("next-signing-key")))
	assert.True(t, VerifySignature(built.Content, signer, "local-1"))
	assert.True(t, VerifySignature(built.Content, signer, ""))
	assert.False(t, VerifySignature(built.Content, signer, "local-2"))

	fresh, err := NewBuilder(signer).Build(testPayment())
	require.NoError(t, err)
	assert.Equal(t, "local-2", fresh.KeyID)
	assert.NotEqual(t, built.Signature, fresh.Signature)
}

func TestVerifySignature_RefusesShortSignatures(t *testing.T) {
	signer := newTestSigner(t)
	built, err := NewBuilder(signer).Build(testPayment())
	require.NoError(t, err)

	var add Encoder
	add.Add("05", testTxID+"."+built.Signature[:MinSignatureLength-1])
	addValue, err := add.String()
	require.NoError(t, err)
	body := built.SignedPrefix
	field, err := EncodeField(TagAdditionalData, addValue)
	require.NoError(t, err)
	assert.False(t, VerifySignature(body+field, signer, "local-1"))

	_, ok := SignedPayload(built.SignedPrefix)
	assert.False(t, ok)
}

func TestInspect(t *testing.T) {
	signer := newTestSigner(t)
	built, err := NewBuilder(signer).Build(testPayment())
	require.NoError(t, err)

	t.Run("clean payload", func(t *testing.T) {
		r := Inspect(built.Content, signer)
		assert.True(t, r.CRCValid)
		assert.True(t, r.SignatureValid)
		assert.Equal(t, testTxID, r.TransactionID)
		assert.Empty(t, r.Diagnostics)
		assert.Equal(t, "50000", r.Fields["54"])
		assert.Equal(t, "Order#42", r.Nested["62"]["08"])
		assert.Equal(t, "970436", r.Nested["38.01"]["00"])
	})

	t.Run("corrupted group length", func(t *testing.T) {
		r := Inspect(withLength(t, built.Content, "62", "99"), signer)
		assert.False(t, r.CRCValid)
		assert.False(t, r.SignatureValid)
		assert.Equal(t, testTxID, r.TransactionID)
		require.NotEmpty(t, r.Diagnostics)
		assert.Contains(t, strings.Join(r.Diagnostics, "\n"), "tag 62")
	})

	t.Run("without verifier", func(t *testing.T) {
		r := Inspect(built.Content, nil)
		assert.True(t, r.CRCValid)
		assert.False(t, r.SignatureValid)
	})

	t.Run("empty input", func(t *testing.T) {
		r := Inspect("", signer)
		assert.Empty(t, r.Content)
		assert.Contains(t, r.Diagnostics, "empty QR content")
	})
}
