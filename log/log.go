// Package log is a small logging facility used by easystore.
//
// Without Init() messages only go to Output. After Init() they are also
// appended to daily files in Config.Dir: log/, errors/ and events/.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/toon-format/toon-go"
)

var (
	log       *WriteDaily
	errorsLog *WriteDaily
	eventsLog *WriteDaily

	// Output receives every message. Set to io.Discard to silence the console
	Output io.Writer = os.Stderr

	// if true, Verbosef() will log messages
	Verbose bool

	onLog func(s string)
	mu    sync.Mutex
)

type WriteDaily struct {
	Dir         string
	currentDate int // YYYYMMDD format
	file        *os.File
	mu          sync.Mutex
}

func NewWriteDaily(dir string) *WriteDaily {
	return &WriteDaily{
		Dir: dir,
	}
}

// dayFromTime converts a time.Time to YYYYMMDD integer format
func dayFromTime(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

func (w *WriteDaily) open(now time.Time) error {
	today := dayFromTime(now)
	if w.file != nil && w.currentDate == today {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return err
	}
	path := filepath.Join(w.Dir, now.Format("2006-01-02")+".txt")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	w.file = f
	w.currentDate = today
	return nil
}

// Write appends d to today's file, rotating when the day changes.
// it's safe to call on nil receiver
func (w *WriteDaily) Write(d []byte) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(time.Now().UTC()); err != nil {
		return err
	}
	_, err := w.file.Write(d)
	return err
}

func (w *WriteDaily) WriteString(s string) error {
	return w.Write([]byte(s))
}

func (w *WriteDaily) close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.currentDate = 0
	return err
}

// Close closes the daily log file
// it's safe to call on nil receiver
func (w *WriteDaily) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		_ = w.file.Sync()
	}
	return w.close()
}

type Config struct {
	// directory where log files are stored. Empty means console only
	Dir string
	// called for every message, e.g. to capture logs in tests
	OnLog func(s string)
}

// Init configures file logging. Calling it again replaces the previous config.
func Init(config *Config) {
	Close()
	mu.Lock()
	defer mu.Unlock()
	onLog = config.OnLog
	dir := config.Dir
	if dir == "" {
		return
	}
	log = NewWriteDaily(filepath.Join(dir, "log"))
	errorsLog = NewWriteDaily(filepath.Join(dir, "errors"))
	// no file is created until the first event
	eventsLog = NewWriteDaily(filepath.Join(dir, "events"))
}

// Close flushes and closes log files
func Close() {
	mu.Lock()
	defer mu.Unlock()
	for _, wd := range []**WriteDaily{&log, &errorsLog, &eventsLog} {
		(*wd).Close()
		*wd = nil
	}
	onLog = nil
}

func emit(wd *WriteDaily, s string) {
	mu.Lock()
	w, fn := Output, onLog
	mu.Unlock()
	if w != nil {
		fmt.Fprint(w, s)
	}
	wd.WriteString(s)
	if fn != nil {
		fn(s)
	}
}

func Logf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	emit(log, s)
}

func Verbosef(format string, args ...any) {
	if !Verbose {
		return
	}
	Logf(format, args...)
}

// Warnf logs a non-fatal diagnostic, e.g. a stored value we could not decode
func Warnf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	emit(log, "warn: "+s)
}

func GetCallstack(skip int) string {
	var callers [32]uintptr
	n := runtime.Callers(skip+2, callers[:])
	frames := runtime.CallersFrames(callers[:n])
	var cs []string
	for {
		frame, more := frames.Next()
		if !more {
			break
		}
		cs = append(cs, frame.File+":"+strconv.Itoa(frame.Line))
	}
	return strings.Join(cs, "\n")
}

// Errorf logs an error message along with the callstack
func Errorf(s string, args ...any) {
	if len(args) > 0 {
		s = fmt.Sprintf(s, args...)
	}
	s = fmt.Sprintf("%s\n%s\n", s, GetCallstack(1))
	emit(log, s)
	errorsLog.WriteString(s)
}

// if err != nil, log and return true
func IfErrf(err error, a ...any) bool {
	if err == nil {
		return false
	}
	if len(a) == 0 {
		Errorf("%s", err.Error())
		return true
	}
	s, ok := a[0].(string)
	if !ok {
		s = fmt.Sprintf("%v", a[0])
	}
	Errorf(s, a[1:]...)
	return true
}

// simpleTypeToStr converts simple types to string
// panics if v is of complex type
func simpleTypeToStr(v any) string {
	switch reflect.TypeOf(v).Kind() {
	case reflect.Array, reflect.Slice, reflect.Struct, reflect.Map, reflect.Chan, reflect.Interface, reflect.Pointer:
		panic(fmt.Sprintf("simpleTypeToStr: value %v is not a simple type", v))
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// FormatEvent returns a single event record: "<name> <unix ms>\n" followed by
// key/value pairs in toon format.
func FormatEvent(name string, t time.Time, vals ...any) []byte {
	n := len(vals)
	if n%2 != 0 {
		panic(fmt.Sprintf("FormatEvent: odd number of vals (%d)", n))
	}
	d := fmt.Appendf(nil, "%s %d\n", name, t.UTC().UnixMilli())
	if n == 0 {
		return d
	}
	m := map[string]any{}
	for i := 0; i < n; i += 2 {
		m[simpleTypeToStr(vals[i])] = vals[i+1]
	}
	body, err := toon.Marshal(m)
	if err != nil {
		body = fmt.Appendf(nil, "error: %q", err.Error())
	}
	d = append(d, body...)
	if len(body) > 0 && body[len(body)-1] != '\n' {
		d = append(d, '\n')
	}
	return d
}

// Event records a structured event in the events log
func Event(name string, vals ...any) {
	d := FormatEvent(name, time.Now(), vals...)
	Verbosef("event: %s", d)
	eventsLog.Write(d)
}
