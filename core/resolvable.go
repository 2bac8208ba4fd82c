// Package core provides the fundamental building blocks of the golemref library.
// This file defines Resolvable, the capability shared by references, optional
// references and ordered lists of references, so callers can resolve any of
// them with the same code.
package core

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Resolvable is anything that can be resolved against a Database.
//
// R is the result of Resolve and P the result of ResolveIfPresent:
//
//	Reference[M, ID]  R = M    P = *M
//	Optional[R, P]    R = *R   P = P (zero when absent)
//	List[R, P]        R = []R  P = []P
type Resolvable[R, P any] interface {
	Resolve(ctx context.Context, db *Database, filter *Condition) (R, error)
	ResolveIfPresent(ctx context.Context, db *Database, filter *Condition) (P, error)
}

// Optional wraps a Resolvable that may be absent. Resolving an absent
// Optional returns the zero value without calling the store.
type Optional[R, P any] struct {
	value Resolvable[R, P]
}

// Some wraps a present Resolvable.
func Some[R, P any](value Resolvable[R, P]) Optional[R, P] {
	return Optional[R, P]{value: value}
}

// None returns an absent Optional.
func None[R, P any]() Optional[R, P] {
	return Optional[R, P]{}
}

// OptionalRef adapts a possibly nil reference pointer.
//
// Example:
//
//	type Post struct {
//		Editor *core.Reference[User, string] `bson:"editor,omitempty"`
//	}
//
//	editor, err := core.OptionalRef(post.Editor).Resolve(ctx, db, nil) // *User, nil when unset
func OptionalRef[M Model, ID comparable](ref *Reference[M, ID]) Optional[M, *M] {
	if ref == nil {
		return None[M, *M]()
	}
	return Some[M, *M](*ref)
}

// IsPresent reports whether the Optional wraps a value.
func (o Optional[R, P]) IsPresent() bool {
	return o.value != nil
}

// Resolve resolves the wrapped value, or returns nil when absent.
func (o Optional[R, P]) Resolve(ctx context.Context, db *Database, filter *Condition) (*R, error) {
	if o.value == nil {
		return nil, nil
	}
	result, err := o.value.Resolve(ctx, db, filter)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResolveIfPresent resolves the wrapped value if present, or returns the zero P when absent.
func (o Optional[R, P]) ResolveIfPresent(ctx context.Context, db *Database, filter *Condition) (P, error) {
	if o.value == nil {
		var zero P
		return zero, nil
	}
	return o.value.ResolveIfPresent(ctx, db, filter)
}

// List is an ordered collection of Resolvables.
//
// Resolve and ResolveIfPresent work sequentially: each element starts only
// after the previous one completed, results keep input order, and the first
// failure is returned as is without attempting later elements.
type List[R, P any] []Resolvable[R, P]

// ListOf builds a List from resolvables.
func ListOf[R, P any](itemList ...Resolvable[R, P]) List[R, P] {
	return List[R, P](itemList)
}

// RefList builds a List from references of the same target type.
func RefList[M Model, ID comparable](refList ...Reference[M, ID]) List[M, *M] {
	list := make(List[M, *M], 0, len(refList))
	for _, ref := range refList {
		list = append(list, ref)
	}
	return list
}

// Resolve resolves every element in order.
func (l List[R, P]) Resolve(ctx context.Context, db *Database, filter *Condition) ([]R, error) {
	return resolveSequential(ctx, []Resolvable[R, P](l), func(ctx context.Context, item Resolvable[R, P]) (R, error) {
		return item.Resolve(ctx, db, filter)
	})
}

// ResolveIfPresent resolves every element in order with ResolveIfPresent.
func (l List[R, P]) ResolveIfPresent(ctx context.Context, db *Database, filter *Condition) ([]P, error) {
	return resolveSequential(ctx, []Resolvable[R, P](l), func(ctx context.Context, item Resolvable[R, P]) (P, error) {
		return item.ResolveIfPresent(ctx, db, filter)
	})
}

// ResolveConcurrent resolves up to limit elements at a time (limit <= 0 means
// unbounded) and returns results in input order.
//
// The error returned is the one of the lowest failing index, exactly as
// Resolve would report it. Once element k failed, elements after k are not
// started and those already running are cancelled.
func (l List[R, P]) ResolveConcurrent(ctx context.Context, db *Database, filter *Condition, limit int) ([]R, error) {
	return resolveConcurrent(ctx, []Resolvable[R, P](l), limit, func(ctx context.Context, item Resolvable[R, P]) (R, error) {
		return item.Resolve(ctx, db, filter)
	})
}

// ResolveIfPresentConcurrent is the ResolveIfPresent counterpart of ResolveConcurrent.
func (l List[R, P]) ResolveIfPresentConcurrent(ctx context.Context, db *Database, filter *Condition, limit int) ([]P, error) {
	return resolveConcurrent(ctx, []Resolvable[R, P](l), limit, func(ctx context.Context, item Resolvable[R, P]) (P, error) {
		return item.ResolveIfPresent(ctx, db, filter)
	})
}

// ResolveAsync starts Resolve in the background. Cancelling the future stops
// elements that have not started yet.
func (l List[R, P]) ResolveAsync(ctx context.Context, db *Database, filter *Condition) *Future[[]R] {
	return Async(ctx, func(ctx context.Context) ([]R, error) {
		return l.Resolve(ctx, db, filter)
	})
}

func resolveSequential[E, T any](ctx context.Context, itemList []E, resolve func(context.Context, E) (T, error)) ([]T, error) {
	resultList := make([]T, 0, len(itemList))
	for _, item := range itemList {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := resolve(ctx, item)
		if err != nil {
			return nil, err
		}
		resultList = append(resultList, result)
	}
	return resultList, nil
}

func resolveConcurrent[E, T any](ctx context.Context, itemList []E, limit int, resolve func(context.Context, E) (T, error)) ([]T, error) {
	resultList := make([]T, len(itemList))
	if len(itemList) == 0 {
		return resultList, nil
	}

	var (
		mutex       sync.Mutex
		failedIndex = len(itemList)
		firstErr    error
		cancelList  = make([]context.CancelFunc, len(itemList))
	)
	// fail records err for index when it precedes every failure seen so far
	// and cancels the elements after it.
	fail := func(index int, err error) {
		mutex.Lock()
		defer mutex.Unlock()
		if index >= failedIndex {
			return
		}
		failedIndex, firstErr = index, err
		for later := index + 1; later < len(cancelList); later++ {
			if cancelList[later] != nil {
				cancelList[later]()
			}
		}
	}

	var group errgroup.Group
	if limit > 0 {
		group.SetLimit(limit)
	}
	for index, item := range itemList {
		if err := ctx.Err(); err != nil {
			fail(index, err)
			break
		}
		mutex.Lock()
		if index > failedIndex {
			mutex.Unlock()
			break
		}
		itemCtx, cancel := context.WithCancel(ctx)
		cancelList[index] = cancel
		mutex.Unlock()

		group.Go(func() error {
			defer cancel()
			result, err := resolve(itemCtx, item)
			if err != nil {
				fail(index, err)
				return nil
			}
			resultList[index] = result
			return nil
		})
	}
	_ = group.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return resultList, nil
}
