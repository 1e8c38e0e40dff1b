// Package miniokv is a kv.Backend stored in an S3-compatible bucket
// (AWS S3, Cloudflare R2, Backblaze B2, minio), one object per key.
package miniokv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/kjk/easystore/kv"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	Access   string
	Secret   string
	Bucket   string
	Endpoint string
	Region   string
	// objects are stored as Prefix + key, e.g. "easystore/"
	Prefix string
	// use http instead of https, for local minio servers
	Insecure bool
	// timeout of a single operation, DefaultTimeout if 0
	Timeout      time.Duration
	RequestTrace io.Writer
}

// Store keeps each item as an object.
// Keys are enumerated in lexical order, not in insertion order.
type Store struct {
	Client *minio.Client
	Bucket string
	Prefix string

	timeout time.Duration
}

var (
	_ kv.Backend   = &Store{}
	_ kv.KeyLister = &Store{}
)

func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("must provide config")
	}
	c := config
	if c.Access == "" || c.Secret == "" || c.Bucket == "" || c.Endpoint == "" {
		return nil, errors.New("must provide all fields in config")
	}

	mc, err := minio.New(c.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(c.Access, c.Secret, ""),
		Region: c.Region,
		Secure: !c.Insecure,
	})
	if err != nil {
		return nil, err
	}
	if c.RequestTrace != nil {
		mc.TraceOn(c.RequestTrace)
	}
	s := &Store{
		Client:  mc,
		Bucket:  c.Bucket,
		Prefix:  c.Prefix,
		timeout: c.Timeout,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}

	ctx, cancel := s.ctx()
	defer cancel()
	found, err := mc.BucketExists(ctx, c.Bucket)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("bucket '%s' doesn't exist", c.Bucket)
	}
	return s, nil
}

func (s *Store) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func (s *Store) objectName(key string) (string, error) {
	name := s.Prefix + key
	if name == "" {
		return "", errors.New("miniokv: empty key needs a non-empty Prefix")
	}
	return name, nil
}

func isNotFound(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *Store) GetItem(key string) (string, bool, error) {
	name, err := s.objectName(key)
	if err != nil {
		return "", false, err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	obj, err := s.Client.GetObject(ctx, s.Bucket, name, minio.GetObjectOptions{})
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("miniokv get %s: %w", name, err)
	}
	defer obj.Close()
	// GetObject is lazy, a missing object is only reported on read
	d, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("miniokv get %s: %w", name, err)
	}
	return string(d), true, nil
}

func (s *Store) SetItem(key string, value string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	opts := minio.PutObjectOptions{
		ContentType: "text/plain; charset=utf-8",
	}
	r := strings.NewReader(value)
	if _, err = s.Client.PutObject(ctx, s.Bucket, name, r, int64(len(value)), opts); err != nil {
		return fmt.Errorf("miniokv set %s: %w", name, err)
	}
	return nil
}

// RemoveItem deletes the object. S3 doesn't fail deleting a missing object.
func (s *Store) RemoveItem(key string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	ctx, cancel := s.ctx()
	defer cancel()
	if err = s.Client.RemoveObject(ctx, s.Bucket, name, minio.RemoveObjectOptions{}); err != nil && !isNotFound(err) {
		return fmt.Errorf("miniokv remove %s: %w", name, err)
	}
	return nil
}

// Keys lists objects under Prefix
func (s *Store) Keys() ([]string, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	opts := minio.ListObjectsOptions{
		Prefix:    s.Prefix,
		Recursive: true,
	}
	res := []string{}
	for oi := range s.Client.ListObjects(ctx, s.Bucket, opts) {
		if oi.Err != nil {
			return nil, fmt.Errorf("miniokv list %s: %w", s.Prefix, oi.Err)
		}
		res = append(res, strings.TrimPrefix(oi.Key, s.Prefix))
	}
	return res, nil
}

func (s *Store) Len() (int, error) {
	keys, err := s.Keys()
	return len(keys), err
}

// Key lists all objects so iterating with Key() is O(n^2).
// Use kv.Keys() instead.
func (s *Store) Key(index int) (string, bool, error) {
	if index < 0 {
		return "", false, nil
	}
	keys, err := s.Keys()
	if err != nil {
		return "", false, err
	}
	if index >= len(keys) {
		return "", false, nil
	}
	return keys[index], true, nil
}
