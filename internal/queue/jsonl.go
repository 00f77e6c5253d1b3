package queue

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/models"
)

// appendRecord writes v as one line with a single O_APPEND write, so
// concurrent appenders never interleave inside a record.
func appendRecord(path string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "failed to encode queue record")
	}
	data = append(data, '\n')

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to append to %s", path)
	}
	return f.Close()
}

// readEntries parses a JSONL queue file. Malformed lines are logged and
// skipped; corrupt reports how many were dropped. A missing file is empty.
func readEntries(path string) (entries []models.QueueEntry, corrupt int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrapf(err, "failed to read %s", path)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		entry, err := decodeEntry(line)
		if err != nil {
			corrupt++
			log.WithFields(log.Fields{
				"file": filepath.Base(path),
				"line": lineNo,
			}).Warn(errors.Wrapf(models.ErrQueueCorruption, "line %d: %v", lineNo, err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return entries, corrupt, errors.Wrapf(err, "failed to scan %s", path)
	}
	return entries, corrupt, nil
}

func decodeEntry(line []byte) (models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := json.Unmarshal(line, &entry); err != nil {
		return entry, err
	}
	if entry.WorkspacePath == "" {
		return entry, errors.New("missing workspacePath")
	}
	return entry, nil
}

// readDeadLetters parses deadletter.jsonl, skipping unreadable lines.
func readDeadLetters(path string) ([]models.DeadLetter, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	var out []models.DeadLetter
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var dl models.DeadLetter
		if json.Unmarshal(scanner.Bytes(), &dl) == nil {
			out = append(out, dl)
		}
	}
	return out, scanner.Err()
}

// writeEntries atomically replaces path with entries: temp file, fsync,
// rename. An empty slice removes path instead.
func writeEntries(path string, entries []models.QueueEntry) error {
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "failed to remove %s", path)
		}
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return errors.Wrap(err, "failed to encode queue record")
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".rewrite-*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() { os.Remove(tmpName) }

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(err, "failed to write temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return errors.Wrap(err, "failed to sync temp file")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}
