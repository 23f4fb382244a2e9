// Package broker is the topic-based publish/subscribe layer that connects
// document ingestion to clustering and user activity to its two consumers.
//
// Every consumer group subscribed to a topic receives every message on it;
// consumers inside one group share the work. Delivery is at-least-once, so
// handlers must tolerate duplicates.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Stable wire topic names.
const (
	TopicDocumentUploadRAG = "document.upload.rag"
	TopicDocumentUploadCDN = "document.upload.cdn"
	TopicUserActivity      = "user.activity"
	TopicUserSignup        = "user.signup.success"
)

// Consumer group names.
const (
	GroupClustering     = "clustering"
	GroupActivitySave   = "activity_save"
	GroupActivityStreak = "activity_streak"
)

var (
	// ErrPartitionEOF means a poll found nothing new within its wait. It is
	// never fatal.
	ErrPartitionEOF = errors.New("broker: reached end of partition")
	// ErrTransient marks a broker error that clears on retry.
	ErrTransient = errors.New("broker: transient error")
	// ErrClosed is returned when publishing on a closed producer.
	ErrClosed = errors.New("broker: producer closed")
)

// Message is one delivered record. Offset identifies it for Commit within its
// topic and partition.
type Message struct {
	Topic     string
	Key       string
	Value     []byte
	Partition int
	Offset    int64
	Time      time.Time
}

// Writer appends messages to topics.
type Writer interface {
	Write(ctx context.Context, msgs ...Message) error
	Close() error
}

// Reader is one group member's view of its topics.
type Reader interface {
	// Fetch waits at most maxWait for the next message. It returns
	// ErrPartitionEOF when nothing arrived in time.
	Fetch(ctx context.Context, maxWait time.Duration) (Message, error)
	// Commit marks m as processed for the reader's group.
	Commit(ctx context.Context, m Message) error
	Close() error
}

// Transport creates writers and group readers for one broker backend.
type Transport interface {
	NewWriter() (Writer, error)
	NewReader(ctx context.Context, group string, topics []string) (Reader, error)
}

// Backend names accepted by config.
const (
	BackendSQLite = "sqlite"
	BackendKafka  = "kafka"
)

// ValidateBackend fails on anything outside the closed backend set.
func ValidateBackend(name string) error {
	switch name {
	case BackendSQLite, BackendKafka:
		return nil
	default:
		return fmt.Errorf("unknown broker backend %q (want %s or %s)", name, BackendSQLite, BackendKafka)
	}
}

type transientError struct{ err error }

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() []error { return []error{e.err, ErrTransient} }

func markTransient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}
