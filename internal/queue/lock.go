package queue

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/pders01/git-rewind/internal/models"
)

// drainLock is the advisory processor lock. The file holds the RFC3339Nano
// instant it was taken, which doubles as the owner token.
type drainLock struct {
	path  string
	token string
}

func acquireLock(path string, now time.Time, staleAfter time.Duration) (*drainLock, error) {
	token := now.UTC().Format(time.RFC3339Nano)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.WriteString(token)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, errors.Wrap(firstErr(werr, cerr), "failed to write drain lock")
			}
			return &drainLock{path: path, token: token}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "failed to create drain lock")
		}

		held, age, err := lockAge(path, now)
		if err != nil {
			return nil, err
		}
		if held && age < staleAfter {
			return nil, models.ErrDrainInProgress
		}
		log.WithFields(log.Fields{"lock": path, "age": age}).Warn("reclaiming stale drain lock")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "failed to remove stale drain lock")
		}
	}
	return nil, models.ErrDrainInProgress
}

// lockAge reports whether a lock file exists and how old its token is. A
// token that cannot be parsed, e.g. one still being written, is aged by the
// file's mtime instead.
func lockAge(path string, now time.Time) (bool, time.Duration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, errors.Wrap(err, "failed to read drain lock")
	}
	taken, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(data)))
	if err != nil {
		info, statErr := os.Stat(path)
		if statErr != nil {
			return false, 0, nil
		}
		taken = info.ModTime()
	}
	return true, now.Sub(taken), nil
}

// release removes the lock only while it still carries our token, so a
// drainer whose lock was reclaimed cannot delete the new owner's lock.
func (l *drainLock) release() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if strings.TrimSpace(string(data)) != l.token {
		log.WithField("lock", l.path).Warn("drain lock changed owner, leaving it in place")
		return
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("failed to release drain lock")
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
