package log

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/assert"
)

func captureLogs(t *testing.T) *[]string {
	var got []string
	Init(&Config{
		Dir:   t.TempDir(),
		OnLog: func(s string) { got = append(got, s) },
	})
	prev := Output
	Output = io.Discard
	t.Cleanup(func() {
		Close()
		Output = prev
	})
	return &got
}

func TestLogfAndWarnf(t *testing.T) {
	got := captureLogs(t)
	Logf("hello %s\n", "world")
	Warnf("key %q is odd\n", "k")
	assert.Equal(t, []string{"hello world\n", "warn: key \"k\" is odd\n"}, *got)
}

func TestVerbosef(t *testing.T) {
	got := captureLogs(t)
	Verbose = false
	Verbosef("quiet\n")
	assert.Equal(t, 0, len(*got))
	Verbose = true
	defer func() { Verbose = false }()
	Verbosef("loud\n")
	assert.Equal(t, []string{"loud\n"}, *got)
}

func TestErrorfWritesErrorsLog(t *testing.T) {
	dir := t.TempDir()
	Init(&Config{Dir: dir})
	prev := Output
	Output = io.Discard
	defer func() { Output = prev }()

	Errorf("boom %d", 1)
	assert.True(t, IfErrf(errors.New("second")))
	assert.False(t, IfErrf(nil))
	Close()

	name := time.Now().UTC().Format("2006-01-02") + ".txt"
	d, err := os.ReadFile(filepath.Join(dir, "errors", name))
	assert.NoError(t, err)
	s := string(d)
	assert.True(t, strings.HasPrefix(s, "boom 1\n"), s)
	assert.True(t, strings.Contains(s, "log_test.go"), s)
	assert.True(t, strings.Contains(s, "second"), s)
}

func TestFormatEvent(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	d := FormatEvent("filekv.compact", ts)
	assert.Equal(t, "filekv.compact 1700000000123\n", string(d))

	d = FormatEvent("decode.unknown", ts, "key", "a", "type", "Weird")
	s := string(d)
	assert.True(t, strings.HasPrefix(s, "decode.unknown 1700000000123\n"), s)
	assert.True(t, strings.Contains(s, "Weird"), s)
	assert.True(t, strings.HasSuffix(s, "\n"), s)
}

func TestFormatEventPanicsOnOddVals(t *testing.T) {
	assert.Panics(t, func() {
		FormatEvent("x", time.Now(), "key")
	})
}

func TestWriteDailyNilSafe(t *testing.T) {
	var w *WriteDaily
	assert.NoError(t, w.WriteString("x"))
	assert.NoError(t, w.Close())
}
