// Package logger writes prefixed log lines through a buffered channel so a
// slow stderr never blocks the relay loop. Function timings can be logged
// with DeferLogDuration.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const asyncBufferSize = 8192

var (
	prefix   atomic.Value
	logLevel atomic.Int32
	ch       chan string
	once     sync.Once
	dropped  atomic.Uint64
)

type level int32

const (
	levelDebug level = iota
	levelInfo
	levelError
)

func init() {
	prefix.Store("")
	SetLevel(os.Getenv("LOG_LEVEL"))
}

func parseLevel(s string) level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return levelDebug
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

// SetLevel accepts debug, info or error; anything else means info.
func SetLevel(s string) {
	logLevel.Store(int32(parseLevel(s)))
}

func enabled(l level) bool {
	return level(logLevel.Load()) <= l
}

func initWorker() {
	ch = make(chan string, asyncBufferSize)
	go func() {
		for msg := range ch {
			log.Print(msg)
		}
	}()
}

func enqueue(msg string) {
	once.Do(initWorker)
	select {
	case ch <- msg:
	default:
		// Buffer full: drop rather than block.
		dropped.Add(1)
	}
}

// Dropped reports how many lines were lost to a full buffer.
func Dropped() uint64 {
	return dropped.Load()
}

// SetPrefix sets the tag for every following line (e.g. "relay").
func SetPrefix(p string) {
	prefix.Store(p)
}

func tag() string {
	p, _ := prefix.Load().(string)
	if p == "" {
		return ""
	}
	return "[" + p + "] "
}

func Debugf(format string, v ...any) {
	if enabled(levelDebug) {
		enqueue(tag() + "DEBUG: " + fmt.Sprintf(format, v...))
	}
}

func Info(v ...any) {
	if enabled(levelInfo) {
		enqueue(tag() + fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(levelInfo) {
		enqueue(tag() + fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprint(v...))
}

func Errorf(format string, v ...any) {
	enqueue(tag() + "ERROR: " + fmt.Sprintf(format, v...))
}

// LogDuration logs fn and its elapsed milliseconds. Below debug level only
// calls slower than 100ms are logged.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(levelDebug) || elapsed >= 100*time.Millisecond {
		enqueue(fmt.Sprintf("%sfn=%s duration_ms=%d", tag(), fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration is meant for defer: defer logger.DeferLogDuration("name", time.Now())().
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
