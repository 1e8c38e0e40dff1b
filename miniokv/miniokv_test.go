package miniokv

import (
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alecthomas/assert"
	"github.com/minio/minio-go/v7"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/kv/kvtest"
)

// testConfig returns config of a real S3/minio server from
// EASYSTORE_TEST_MINIO_* env variables, skipping the test if not set
func testConfig(t *testing.T) *Config {
	t.Helper()
	c := &Config{
		Endpoint: os.Getenv("EASYSTORE_TEST_MINIO_ENDPOINT"),
		Access:   os.Getenv("EASYSTORE_TEST_MINIO_ACCESS"),
		Secret:   os.Getenv("EASYSTORE_TEST_MINIO_SECRET"),
		Bucket:   os.Getenv("EASYSTORE_TEST_MINIO_BUCKET"),
		Insecure: os.Getenv("EASYSTORE_TEST_MINIO_INSECURE") == "1",
	}
	if c.Endpoint == "" || c.Access == "" || c.Secret == "" || c.Bucket == "" {
		t.Skip("EASYSTORE_TEST_MINIO_* not set")
	}
	return c
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	c := testConfig(t)
	c.Prefix = fmt.Sprintf("easystore-test/%d/", time.Now().UnixNano())
	s, err := New(c)
	assert.NoError(t, err)
	t.Cleanup(func() {
		keys, _ := s.Keys()
		for _, k := range keys {
			_ = s.RemoveItem(k)
		}
	})
	return s
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{Access: "a", Secret: "s", Endpoint: "localhost:9000"})
	assert.Error(t, err)
}

func TestObjectName(t *testing.T) {
	s := &Store{Prefix: "p/"}
	name, err := s.objectName("k")
	assert.NoError(t, err)
	assert.Equal(t, "p/k", name)

	s.Prefix = ""
	_, err = s.objectName("")
	assert.Error(t, err)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(minio.ErrorResponse{Code: "NoSuchKey"}))
	assert.False(t, isNotFound(minio.ErrorResponse{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("network is down")))
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return openTestStore(t)
	}, kvtest.Options{InsertionOrder: false})
}
