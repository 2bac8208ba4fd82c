// Package core provides the fundamental building blocks of the golemref library.
// This file defines the middleware system, which allows cross-cutting concerns
// (logging, metrics, fault injection, etc.) to wrap every store call.
package core

import (
	"context"
	"log/slog"
	"time"
)

// Operation represents the kind of store call being executed.
type Operation string

const (
	// OperationFind corresponds to a single-document lookup.
	OperationFind Operation = "find"
	// OperationCount corresponds to a count of matching documents.
	OperationCount Operation = "count"
	// OperationDelete corresponds to a delete-one call.
	OperationDelete Operation = "delete"
	// OperationCommand corresponds to an update command.
	OperationCommand Operation = "command"
)

// OperationPayload describes the store call passed through the middleware chain.
//
// Filter is set for find, count and delete; Command is set for command.
type OperationPayload struct {
	Collection string
	Filter     *Condition
	Command    *UpdateCommand
}

// Handler is the function signature executed by the store pipeline.
type Handler func(ctx context.Context, op Operation, payload OperationPayload) error

// Middleware is a function that wraps a Handler with additional logic.
//
// Middlewares follow the decorator pattern. A middleware may short-circuit
// by returning an error without calling next; that error reaches the caller
// exactly as a store error would.
type Middleware func(next Handler) Handler

// chainMiddlewares applies middlewares to the final handler.
// The most recently registered middleware runs first.
func chainMiddlewares(middlewareList []Middleware, final Handler) Handler {
	h := final
	for _, mw := range middlewareList {
		h = mw(h)
	}
	return h
}

// LoggingMiddleware logs every store call passing through the database.
//
// It measures execution time and logs success at debug level and failures
// at error level.
//
// Example:
//
//	db := core.NewDatabase(store, core.WithMiddleware(core.LoggingMiddleware(slog.Default())))
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload OperationPayload) error {
			start := time.Now()
			err := next(ctx, op, payload)
			attrList := []any{
				"op", op,
				"collection", payload.Collection,
				"took", time.Since(start),
			}
			if payload.Filter != nil {
				attrList = append(attrList, "filter", payload.Filter.String())
			}
			if payload.Command != nil {
				attrList = append(attrList, "updates", len(payload.Command.Updates()))
			}
			if err != nil {
				logger.ErrorContext(ctx, "store call failed", append(attrList, "error", err)...)
			} else {
				logger.DebugContext(ctx, "store call completed", attrList...)
			}
			return err
		}
	}
}
