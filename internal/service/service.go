package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrNoStrategies = errors.New("no strategies selected")
)

// Submitter queues background work; *worker.Pool satisfies it.
type Submitter interface {
	Submit(name string, fn func(ctx context.Context)) error
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c != nil {
		return c().UTC()
	}
	return time.Now().UTC()
}

func strPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func boolPtr(v bool) *bool {
	return &v
}

func idString(id uint64) string {
	return strconv.FormatUint(id, 10)
}

const maxMessageLen = 2000

func truncate(msg string) string {
	if len(msg) <= maxMessageLen {
		return msg
	}
	cut := maxMessageLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut] + "…"
}
