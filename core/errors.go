package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmptyUpdate is returned when an update command carries no update specs.
	ErrEmptyUpdate = errors.New("update command requires at least one update spec")

	// ErrTimeout is matched by every *TimeoutError through errors.Is.
	ErrTimeout = errors.New("timed out waiting for result")
)

// NotFoundError is returned by Resolve when no document matches the reference.
type NotFoundError struct {
	Identifier any
	TargetType string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with identifier %v not found", e.TargetType, e.Identifier)
}

// CommandError is returned when a command reply reports ok != 1.
//
// The full reply is kept so callers can inspect counts and per-index write
// errors, for example to retry only the failed specs.
type CommandError struct {
	Reply *UpdateReply
}

func (e *CommandError) Error() string {
	if e.Reply == nil {
		return "command failed"
	}
	messageList := make([]string, 0, len(e.Reply.WriteErrors)+len(e.Reply.WriteConcernErrors))
	for _, writeError := range e.Reply.WriteErrors {
		messageList = append(messageList, writeError.Error())
	}
	for _, concernError := range e.Reply.WriteConcernErrors {
		messageList = append(messageList, concernError.Error())
	}
	if len(messageList) == 0 {
		return fmt.Sprintf("command failed: ok=%v", e.Reply.OK)
	}
	return fmt.Sprintf("command failed: ok=%v: %s", e.Reply.OK, strings.Join(messageList, "; "))
}

// TimeoutError is returned by Future.Wait when the bound elapses before the
// future completes.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%v after %s", ErrTimeout, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
