package filekv

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/assert"
	"github.com/davecgh/go-spew/spew"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/kv/kvtest"
	"github.com/kjk/easystore/log"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestConformance(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Backend {
		return openStore(t, filepath.Join(t.TempDir(), "store.txt"))
	}, kvtest.Options{InsertionOrder: true})
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "store.txt")
	s := openStore(t, path)
	assert.NoError(t, s.SetItem("b", "1"))
	assert.NoError(t, s.SetItem("a", "multi\nline"))
	assert.NoError(t, s.SetItem(" spaced key ", ""))
	assert.NoError(t, s.SetItem("b", "2"))
	assert.NoError(t, s.SetItem("gone", "x"))
	assert.NoError(t, s.RemoveItem("gone"))
	assert.NoError(t, s.Close())

	s2 := openStore(t, path)
	keys, err := s2.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []string{"b", "a", " spaced key "}, keys, spew.Sdump(keys))
	v, ok, err := s2.GetItem("b")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)
	v, _, _ = s2.GetItem("a")
	assert.Equal(t, "multi\nline", v)
	v, ok, _ = s2.GetItem(" spaced key ")
	assert.True(t, ok)
	assert.Equal(t, "", v)
	_, ok, _ = s2.GetItem("gone")
	assert.False(t, ok)
	// 1 overwritten "b", "gone" and its del record
	assert.Equal(t, 3, s2.DeadRecords())
}

func TestLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.txt")
	s := openStore(t, path)
	assert.NoError(t, s.SetItem("k", "hello"))
	assert.NoError(t, s.RemoveItem("k"))
	assert.NoError(t, s.Close())

	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	lines := strings.Split(string(d), "\n")
	assert.Equal(t, 5, len(lines), "%q", d)
	assert.True(t, strings.HasPrefix(lines[0], "_ 5 "))
	assert.True(t, strings.HasSuffix(lines[0], " set k"))
	assert.Equal(t, "hello", lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "_ 0 "))
	assert.True(t, strings.HasSuffix(lines[2], " del k"))
}

func TestInvalid(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "store.txt"))
	assert.Equal(t, ErrInvalidKey, s.SetItem("a\nb", "x"))

	assert.NoError(t, s.Close())
	assert.Equal(t, ErrClosed, s.SetItem("a", "x"))
	_, _, err := s.GetItem("a")
	assert.Equal(t, ErrClosed, err)
	assert.NoError(t, s.Close())

	var nilStore *Store
	assert.NoError(t, nilStore.Close())

	_, err = Open("")
	assert.Error(t, err)

	// corrupt records before the end of the log are not recoverable
	path := filepath.Join(t.TempDir(), "bad.txt")
	assert.NoError(t, os.WriteFile(path, []byte("_ 1 0 put k\nx\n"), 0644))
	_, err = Open(path)
	assert.Error(t, err)
	assert.NoError(t, os.WriteFile(path, []byte("_ x 0 set k\nv\n_ 1 0 set a\nb\n"), 0644))
	_, err = Open(path)
	assert.Error(t, err)
}

func TestTornLastRecord(t *testing.T) {
	var errs []string
	log.Init(&log.Config{
		OnLog: func(s string) { errs = append(errs, s) },
	})
	prevOut := log.Output
	log.Output = io.Discard
	t.Cleanup(func() {
		log.Close()
		log.Output = prevOut
	})

	path := filepath.Join(t.TempDir(), "store.txt")
	s := openStore(t, path)
	assert.NoError(t, s.SetItem("a", "1"))
	assert.NoError(t, s.SetItem("b", "22"))
	assert.NoError(t, s.Close())
	d, err := os.ReadFile(path)
	assert.NoError(t, err)
	complete := len(d)

	tails := []string{
		"_ 10 1 set c\nshort",
		"_ 10 1 set c\n",
		"_ 10 1 se",
		"_",
	}
	for _, tail := range tails {
		assert.NoError(t, os.WriteFile(path, append(append([]byte{}, d...), tail...), 0644))
		errs = nil
		s2, err := Open(path)
		assert.NoError(t, err, tail)
		keys, err := s2.Keys()
		assert.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, keys, spew.Sdump(keys))
		fi, err := os.Stat(path)
		assert.NoError(t, err)
		assert.Equal(t, int64(complete), fi.Size(), tail)
		assert.True(t, len(errs) > 0, tail)

		// appends after the truncation replay cleanly
		assert.NoError(t, s2.SetItem("c", "3"))
		assert.NoError(t, s2.Close())
		s3 := openStore(t, path)
		v, ok, err := s3.GetItem("c")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "3", v)
		assert.NoError(t, s3.Close())
		assert.NoError(t, os.WriteFile(path, d, 0644))
	}
}

func TestParseIndexLine(t *testing.T) {
	var rec Record
	size, err := parseIndexLine("_ 12 789 set key with spaces", &rec)
	assert.NoError(t, err)
	assert.Equal(t, int64(12), size)
	assert.Equal(t, int64(789), rec.TimestampMs)
	assert.Equal(t, "set", rec.Op)
	assert.Equal(t, "key with spaces", rec.Key)

	_, err = parseIndexLine("_ 0 1 del", &rec)
	assert.NoError(t, err)
	assert.Equal(t, "", rec.Key)

	for _, line := range []string{"invalid line", "5 1 1 set k", "_ -1 1 set k", "_ 1 x set k"} {
		_, err = parseIndexLine(line, &rec)
		assert.Error(t, err, line)
	}
}

func TestCompact(t *testing.T) {
	var events []string
	log.Init(&log.Config{
		OnLog: func(s string) { events = append(events, s) },
	})
	prevOut, prevVerbose := log.Output, log.Verbose
	log.Output = io.Discard
	log.Verbose = true
	t.Cleanup(func() {
		log.Close()
		log.Output = prevOut
		log.Verbose = prevVerbose
	})

	path := filepath.Join(t.TempDir(), "store.txt")
	s := openStore(t, path)
	for i := 0; i < 10; i++ {
		assert.NoError(t, s.SetItem("counter", strings.Repeat("x", i)))
	}
	assert.NoError(t, s.SetItem("other", "o"))
	assert.Equal(t, 9, s.DeadRecords())
	before, err := os.Stat(path)
	assert.NoError(t, err)

	assert.NoError(t, s.Compact())
	assert.Equal(t, 0, s.DeadRecords())
	after, err := os.Stat(path)
	assert.NoError(t, err)
	assert.True(t, after.Size() < before.Size())

	// the store stays usable and the compacted log replays
	assert.NoError(t, s.SetItem("new", "n"))
	assert.NoError(t, s.Close())
	s2 := openStore(t, path)
	keys, err := s2.Keys()
	assert.NoError(t, err)
	assert.Equal(t, []string{"counter", "other", "new"}, keys)
	v, _, _ := s2.GetItem("counter")
	assert.Equal(t, strings.Repeat("x", 9), v)
	assert.Equal(t, 0, s2.DeadRecords())

	found := false
	for _, e := range events {
		if strings.Contains(e, "filekv.compact") {
			found = true
		}
	}
	assert.True(t, found, spew.Sdump(events))

	// no temporary files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	assert.NoError(t, err)
	assert.Equal(t, 1, len(entries))
}

func TestAutoCompact(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.txt")
	s := &Store{Path: path, CompactThreshold: 4, SyncWrite: true}
	assert.NoError(t, OpenStore(s))
	t.Cleanup(func() { _ = s.Close() })

	assert.NoError(t, s.SetItem("a", "1"))
	assert.NoError(t, s.SetItem("b", "1"))
	for i := 0; i < 4; i++ {
		assert.NoError(t, s.SetItem("a", "2"))
	}
	assert.Equal(t, 4, s.DeadRecords())
	// 5th dead record crosses the threshold
	assert.NoError(t, s.SetItem("a", "3"))
	assert.Equal(t, 0, s.DeadRecords())
	v, _, _ := s.GetItem("a")
	assert.Equal(t, "3", v)
	n, err := s.Len()
	assert.NoError(t, err)
	assert.Equal(t, 2, n)
}
