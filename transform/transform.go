// Package transform has string-to-string functions applied to encoded values
// before they're written (e.g. encrypt, compress) and their inverses applied
// after they're read.
package transform

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Func transforms a stored string. A nil Func means no transformation.
type Func func(s string) (string, error)

// Apply calls fn on s. It's a no-op if fn is nil.
func (fn Func) Apply(s string) (string, error) {
	if fn == nil {
		return s, nil
	}
	return fn(s)
}

// Chain returns a Func that applies fns in order. nil entries are skipped.
// To undo Chain(a, b) use Chain(undoB, undoA).
func Chain(fns ...Func) Func {
	return func(s string) (string, error) {
		var err error
		for _, fn := range fns {
			if s, err = fn.Apply(s); err != nil {
				return "", err
			}
		}
		return s, nil
	}
}

func Base64Encode(s string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte(s)), nil
}

func Base64Decode(s string) (string, error) {
	d, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(d), nil
}

// AESGCM encrypts values with AES-256-GCM.
// Output is base64 of nonce (12 bytes) || ciphertext.
type AESGCM struct {
	aead cipher.AEAD
}

// NewAESGCM creates AES-256-GCM encryption from a 32-byte key.
func NewAESGCM(key []byte) (*AESGCM, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("transform: encryption key must be exactly 32 bytes (got %d)", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESGCM{aead: aead}, nil
}

// Encrypt is a Func
func (e *AESGCM) Encrypt(s string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	d := e.aead.Seal(nonce, nonce, []byte(s), nil)
	return base64.StdEncoding.EncodeToString(d), nil
}

// Decrypt is a Func, the inverse of Encrypt
func (e *AESGCM) Decrypt(s string) (string, error) {
	d, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("transform: decrypt: %w", err)
	}
	nsize := e.aead.NonceSize()
	if len(d) < nsize {
		return "", fmt.Errorf("transform: ciphertext too short")
	}
	plain, err := e.aead.Open(nil, d[:nsize], d[nsize:], nil)
	if err != nil {
		return "", fmt.Errorf("transform: decrypt: %w", err)
	}
	return string(plain), nil
}

func getErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// BrotliCompress compresses s and returns it base64 encoded
func BrotliCompress(s string) (string, error) {
	var dst bytes.Buffer
	w := brotli.NewWriterLevel(&dst, brotli.DefaultCompression)
	_, err := w.Write([]byte(s))
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(dst.Bytes()), nil
}

func BrotliDecompress(s string) (string, error) {
	d, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	res, err := io.ReadAll(brotli.NewReader(bytes.NewReader(d)))
	if err != nil {
		return "", err
	}
	return string(res), nil
}

// ZstdCompress compresses s and returns it base64 encoded
func ZstdCompress(s string) (string, error) {
	var dst bytes.Buffer
	w, err := zstd.NewWriter(&dst, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		return "", err
	}
	_, err = w.Write([]byte(s))
	err2 := w.Close()
	if err = getErr(err, err2); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(dst.Bytes()), nil
}

func ZstdDecompress(s string) (string, error) {
	d, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	zr, err := zstd.NewReader(bytes.NewReader(d))
	if err != nil {
		return "", err
	}
	defer zr.Close()
	res, err := io.ReadAll(zr)
	if err != nil {
		return "", err
	}
	return string(res), nil
}
