package transform

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
)

var testInput = `{"type":"String","value":"` + strings.Repeat("lorem ipsum ", 100) + `"}`

func roundTrip(t *testing.T, do Func, undo Func, s string) string {
	t.Helper()
	enc, err := do(s)
	assert.NoError(t, err)
	dec, err := undo(enc)
	assert.NoError(t, err)
	assert.Equal(t, s, dec)
	return enc
}

func TestNilFuncIsIdentity(t *testing.T) {
	var fn Func
	got, err := fn.Apply("x")
	assert.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestBase64(t *testing.T) {
	enc := roundTrip(t, Base64Encode, Base64Decode, "hello\x00world")
	assert.Equal(t, "aGVsbG8Ad29ybGQ=", enc)
	_, err := Base64Decode("!!!")
	assert.Error(t, err)
}

func TestCompression(t *testing.T) {
	enc := roundTrip(t, BrotliCompress, BrotliDecompress, testInput)
	assert.True(t, len(enc) < len(testInput), "brotli: %d >= %d", len(enc), len(testInput))
	enc = roundTrip(t, ZstdCompress, ZstdDecompress, testInput)
	assert.True(t, len(enc) < len(testInput), "zstd: %d >= %d", len(enc), len(testInput))

	_, err := ZstdDecompress("bm90IHpzdGQ=")
	assert.Error(t, err)
}

func TestAESGCM(t *testing.T) {
	_, err := NewAESGCM([]byte("short"))
	assert.Error(t, err)

	key := bytes.Repeat([]byte{7}, 32)
	e, err := NewAESGCM(key)
	assert.NoError(t, err)
	enc1 := roundTrip(t, e.Encrypt, e.Decrypt, testInput)
	enc2 := roundTrip(t, e.Encrypt, e.Decrypt, testInput)
	// random nonce
	assert.NotEqual(t, enc1, enc2)

	other, err := NewAESGCM(bytes.Repeat([]byte{8}, 32))
	assert.NoError(t, err)
	_, err = other.Decrypt(enc1)
	assert.Error(t, err)

	_, err = e.Decrypt("AAAA")
	assert.Error(t, err)
}

func TestChain(t *testing.T) {
	e, err := NewAESGCM(bytes.Repeat([]byte{1}, 32))
	assert.NoError(t, err)
	write := Chain(ZstdCompress, e.Encrypt)
	read := Chain(e.Decrypt, nil, ZstdDecompress)
	roundTrip(t, write, read, testInput)

	errBoom := errors.New("boom")
	failing := Chain(Base64Encode, func(string) (string, error) { return "", errBoom })
	_, err = failing("x")
	assert.True(t, errors.Is(err, errBoom))
}
