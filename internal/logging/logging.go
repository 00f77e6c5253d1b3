// Package logging configures the process-wide logrus logger.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Options select level and sink.
type Options struct {
	Level string
	// Hook mode logs to File because stdout and stderr belong to the host
	// tool that fired the hook.
	Hook bool
	File string
}

// Setup applies opts to the standard logger. The returned func closes the
// log file, if one was opened.
func Setup(opts Options) (func(), error) {
	level, err := log.ParseLevel(opts.Level)
	if err != nil {
		return func() {}, err
	}
	log.SetLevel(level)
	log.AddHook(pidHook{pid: os.Getpid()})

	if !opts.Hook || opts.File == "" {
		log.SetOutput(os.Stderr)
		log.SetFormatter(&log.TextFormatter{DisableTimestamp: true})
		return func() {}, nil
	}

	sink := &lazyFile{path: opts.File}
	log.SetOutput(sink)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: true})
	return func() { sink.Close() }, nil
}

// pidHook tags entries with the process id, since many hook processes share
// one log file.
type pidHook struct {
	pid int
}

func (h pidHook) Levels() []log.Level {
	return log.AllLevels
}

func (h pidHook) Fire(entry *log.Entry) error {
	if _, ok := entry.Data["pid"]; !ok {
		entry.Data["pid"] = h.pid
	}
	return nil
}

// lazyFile opens its file for appending on the first write, so a quiet run
// leaves no trace in the state dir.
type lazyFile struct {
	path string
	once sync.Once
	f    *os.File
	err  error
}

var _ io.WriteCloser = (*lazyFile)(nil)

func (l *lazyFile) Write(p []byte) (int, error) {
	l.once.Do(func() {
		if l.err = os.MkdirAll(filepath.Dir(l.path), 0755); l.err != nil {
			return
		}
		l.f, l.err = os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	})
	if l.err != nil {
		// logging must never fail the caller
		return len(p), nil
	}
	return l.f.Write(p)
}

func (l *lazyFile) Close() error {
	if l.f == nil {
		return nil
	}
	return l.f.Close()
}
