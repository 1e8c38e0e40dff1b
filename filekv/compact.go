package filekv

import (
	"bufio"
	"os"
	"path/filepath"

	"github.com/kjk/easystore/log"
)

func (s *Store) maybeCompact() error {
	if s.CompactThreshold <= 0 {
		return nil
	}
	if s.dead <= s.CompactThreshold || s.dead <= len(s.keys) {
		return nil
	}
	return s.compactLocked()
}

// Compact rewrites the log with only the live records.
// The new log is written to a temporary file which replaces the log
// only after it has been fully written and synced, so a crash leaves
// either the old or the new log.
func (s *Store) Compact() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	return s.compactLocked()
}

func (s *Store) compactLocked() error {
	dir, name := filepath.Split(s.Path)
	tmpFile, err := os.CreateTemp(dir, name+".compact-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	handleError := func(err error) error {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return err
	}

	w := bufio.NewWriter(tmpFile)
	for _, key := range s.keys {
		d := serializeRecord(opSet, key, []byte(s.items[key]), 0)
		if _, err = w.Write(d); err != nil {
			return handleError(err)
		}
	}
	if err = w.Flush(); err != nil {
		return handleError(err)
	}
	if err = tmpFile.Sync(); err != nil {
		return handleError(err)
	}
	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	// on Windows can't rename over an open file
	_ = s.file.Close()
	s.file = nil
	if err = os.Rename(tmpPath, s.Path); err != nil {
		_ = os.Remove(tmpPath)
		// keep appending to the old log
		s.file, _ = os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
		return err
	}
	s.file, err = os.OpenFile(s.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	dropped := s.dead
	s.dead = 0
	log.Event("filekv.compact", "path", s.Path, "keys", len(s.keys), "dropped", dropped)
	return nil
}
