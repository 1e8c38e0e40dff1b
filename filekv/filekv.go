// Package filekv is a kv.Backend persisted in a single append-only log file.
//
// Each write appends a record: an index line followed by the value and a newline.
//
//	_ <size> <timestampMs> <op> <key>
//	<size bytes of value>
//
// op is "set" or "del". Opening the store replays the log, last record for a
// key wins. The file stays readable in a text editor.
package filekv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kjk/easystore/kv"
	"github.com/kjk/easystore/log"
)

const (
	opSet = "set"
	opDel = "del"
)

var (
	ErrClosed     = errors.New("filekv: store is closed")
	ErrInvalidKey = errors.New("filekv: key cannot contain newlines")
)

// Record is a single entry in the log
type Record struct {
	Op          string
	Key         string
	TimestampMs int64
	Value       []byte
}

type Store struct {
	// Path of the log file. Directories are created as needed.
	Path string

	// if true, will call file.Sync() after every write
	// this makes things much slower
	SyncWrite bool

	// compact when number of superseded records is larger than this
	// and larger than number of live keys. 0 disables auto compaction
	CompactThreshold int

	mu    sync.Mutex
	file  *os.File
	items map[string]string
	keys  []string
	// number of records in the log that are no longer live
	dead int
}

var (
	_ kv.Backend   = &Store{}
	_ kv.KeyLister = &Store{}
)

// Open opens or creates the log at path and replays it
func Open(path string) (*Store, error) {
	s := &Store{Path: path}
	if err := OpenStore(s); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenStore opens s.Path, honoring SyncWrite and CompactThreshold set on s.
func OpenStore(s *Store) error {
	if s.Path == "" {
		return fmt.Errorf("filekv: path is not set")
	}
	path, err := filepath.Abs(s.Path)
	if err != nil {
		return fmt.Errorf("filekv: failed to get absolute path: %w", err)
	}
	s.Path = path
	if err = os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = map[string]string{}
	s.keys = nil
	s.dead = 0

	if _, err = os.Stat(path); err == nil {
		records, errFn := ParseLogFile(path)
		for rec := range records {
			s.apply(rec.Op, rec.Key, string(rec.Value))
		}
		err = errFn()
		var torn *TornRecordError
		if errors.As(err, &torn) {
			// crash in the middle of an append, drop the partial record
			log.Errorf("filekv: %s: %s, truncating to %d bytes", path, torn, torn.Offset)
			err = os.Truncate(path, torn.Offset)
		}
		if err != nil {
			return fmt.Errorf("filekv: failed to read records from %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	s.file, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	log.Verbosef("filekv: opened %s, %d keys, %d dead records\n", path, len(s.keys), s.dead)
	return nil
}

// apply updates in-memory state for a record, counting superseded records
func (s *Store) apply(op string, key string, value string) {
	_, exists := s.items[key]
	switch op {
	case opSet:
		if exists {
			s.dead++
		} else {
			s.keys = append(s.keys, key)
		}
		s.items[key] = value
	case opDel:
		// the del record itself is dead weight
		s.dead++
		if !exists {
			return
		}
		s.dead++
		delete(s.items, key)
		for i, k := range s.keys {
			if k == key {
				s.keys = append(s.keys[:i], s.keys[i+1:]...)
				break
			}
		}
	}
}

func serializeRecord(op string, key string, value []byte, timestampMs int64) []byte {
	if timestampMs == 0 {
		timestampMs = time.Now().UTC().UnixMilli()
	}
	hdr := fmt.Sprintf("_ %d %d %s %s\n", len(value), timestampMs, op, key)
	d := make([]byte, 0, len(hdr)+len(value)+1)
	d = append(d, hdr...)
	d = append(d, value...)
	return append(d, '\n')
}

func (s *Store) appendRecord(op string, key string, value string) error {
	if strings.Contains(key, "\n") {
		return ErrInvalidKey
	}
	if s.file == nil {
		return ErrClosed
	}
	d := serializeRecord(op, key, []byte(value), 0)
	if _, err := s.file.Write(d); err != nil {
		return err
	}
	if s.SyncWrite {
		if err := s.file.Sync(); err != nil {
			return err
		}
	}
	s.apply(op, key, value)
	return s.maybeCompact()
}

func (s *Store) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return "", false, ErrClosed
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *Store) SetItem(key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendRecord(opSet, key, value)
}

func (s *Store) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if _, ok := s.items[key]; !ok {
		return nil
	}
	return s.appendRecord(opDel, key, "")
}

func (s *Store) Key(index int) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return "", false, ErrClosed
	}
	if index < 0 || index >= len(s.keys) {
		return "", false, nil
	}
	return s.keys[index], true, nil
}

func (s *Store) Len() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return 0, ErrClosed
	}
	return len(s.keys), nil
}

func (s *Store) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil, ErrClosed
	}
	return append([]string{}, s.keys...), nil
}

// DeadRecords returns number of records that compaction would drop
func (s *Store) DeadRecords() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead
}

// Close closes the log file. It's safe to call on nil or closed store.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// parseIndexLine parses "_ <size> <timestampMs> <op> <key>".
// Unlike other fields, key can contain spaces (including leading ones)
// and can be empty.
func parseIndexLine(line string, rec *Record) (int64, error) {
	parts := strings.SplitN(line, " ", 5)
	if len(parts) < 4 || parts[0] != "_" {
		return 0, fmt.Errorf("invalid index line: %s", line)
	}
	size, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid size '%s' in index line: %s", parts[1], line)
	}
	rec.TimestampMs, err = strconv.ParseInt(parts[2], 10, 64)
	if err != nil || rec.TimestampMs < 0 {
		return 0, fmt.Errorf("invalid timestamp '%s' in index line: %s", parts[2], line)
	}
	rec.Op = parts[3]
	if rec.Op != opSet && rec.Op != opDel {
		return 0, fmt.Errorf("invalid op '%s' in index line: %s", parts[3], line)
	}
	rec.Key = ""
	if len(parts) == 5 {
		rec.Key = parts[4]
	}
	return size, nil
}

// TornRecordError is returned by ParseLogFile when the log ends with
// an incomplete record. Offset is the size of the log up to the end
// of the last complete record.
type TornRecordError struct {
	Offset int64
	Err    error
}

func (e *TornRecordError) Error() string {
	return fmt.Sprintf("incomplete record at offset %d: %s", e.Offset, e.Err)
}

func (e *TornRecordError) Unwrap() error {
	return e.Err
}

// ParseLogFile returns an iterator over records in the log file at path.
// Call the returned error function after iteration to check for parse errors.
// An incomplete last record is reported as *TornRecordError.
func ParseLogFile(path string) (iter.Seq[*Record], func() error) {
	var iterErr error

	seq := func(yield func(*Record) bool) {
		file, err := os.Open(path)
		if err != nil {
			iterErr = err
			return
		}
		defer file.Close()

		// end of the last complete record
		var offset int64
		reader := bufio.NewReader(file)
		for {
			line, err := reader.ReadString('\n')
			if err == io.EOF {
				if line == "" {
					break
				}
				iterErr = &TornRecordError{Offset: offset, Err: fmt.Errorf("index line without newline: %q", line)}
				return
			} else if err != nil {
				iterErr = fmt.Errorf("error reading log file: %w", err)
				return
			}
			n := int64(len(line))
			line = strings.TrimSuffix(line, "\n")
			if line == "" {
				offset += n
				continue
			}

			rec := &Record{}
			size, err := parseIndexLine(line, rec)
			if err != nil {
				iterErr = err
				return
			}
			rec.Value = make([]byte, size)
			if _, err = io.ReadFull(reader, rec.Value); err != nil {
				err = fmt.Errorf("error reading value of '%s': %w", rec.Key, err)
				if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
					err = &TornRecordError{Offset: offset, Err: err}
				}
				iterErr = err
				return
			}
			n += size
			// skip separator newline
			if b, err := reader.Peek(1); err == nil && b[0] == '\n' {
				_, _ = reader.ReadByte()
				n++
			}
			offset += n
			if !yield(rec) {
				return
			}
		}
	}
	return seq, func() error { return iterErr }
}
