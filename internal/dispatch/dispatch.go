// Package dispatch routes action names to service operations. A Table is
// built once from an explicit handler map and never changes afterwards.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

// HandlerFunc executes one operation on an untyped input.
type HandlerFunc func(ctx context.Context, input any) (any, error)

// Observer is told about every dispatched operation.
type Observer interface {
	Begin() func()
	ObserveOperation(service, action string, err error, d time.Duration)
}

type Options struct {
	// Limit bounds concurrently executing operations. It may be shared
	// between tables.
	Limit    *semaphore.Weighted
	Observer Observer
}

type Table struct {
	service  string
	handlers map[string]HandlerFunc
	limit    *semaphore.Weighted
	obs      Observer
}

// NewTable copies handlers into a new table for service.
func NewTable(service string, handlers map[string]HandlerFunc, opts Options) *Table {
	t := &Table{
		service:  service,
		handlers: make(map[string]HandlerFunc, len(handlers)),
		limit:    opts.Limit,
		obs:      opts.Observer,
	}
	for name, h := range handlers {
		t.handlers[name] = h
	}
	return t
}

func (t *Table) Service() string {
	return t.service
}

// Actions returns the registered action names in sorted order.
func (t *Table) Actions() []string {
	names := make([]string, 0, len(t.handlers))
	for name := range t.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ActionName strips any "Prefix." qualifier, so "DynamoDB_20120810.PutItem"
// resolves to "PutItem".
func ActionName(action string) string {
	return action[strings.LastIndex(action, ".")+1:]
}

// Dispatch runs the handler registered for action.
func (t *Table) Dispatch(ctx context.Context, action string, input any) (any, error) {
	name := ActionName(action)
	res := apierr.Resource{Type: apierr.ResourceOperation, Container: t.service, Name: name}
	h, ok := t.handlers[name]
	if !ok {
		return nil, apierr.InvalidArgument(res, apierr.ReasonUnknownOperation, "unknown operation %q", action)
	}
	if t.limit != nil {
		if err := t.limit.Acquire(ctx, 1); err != nil {
			return nil, apierr.Canceled(res, err)
		}
		defer t.limit.Release(1)
	}
	if t.obs == nil {
		return h(ctx, input)
	}
	done := t.obs.Begin()
	start := time.Now()
	out, err := h(ctx, input)
	done()
	t.obs.ObserveOperation(t.service, name, err, time.Since(start))
	return out, err
}

// Bind adapts a typed operation to a HandlerFunc. The input may be an In, a
// *In, nil, or raw JSON that decodes into In.
func Bind[In, Out any](fn func(context.Context, In) (Out, error)) HandlerFunc {
	return func(ctx context.Context, input any) (any, error) {
		var in In
		switch v := input.(type) {
		case nil:
		case In:
			in = v
		case *In:
			if v != nil {
				in = *v
			}
		case json.RawMessage:
			if err := decode(v, &in); err != nil {
				return nil, err
			}
		case []byte:
			if err := decode(v, &in); err != nil {
				return nil, err
			}
		default:
			return nil, apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceOperation},
				apierr.ReasonMalformedInput, "unexpected input type %T", input)
		}
		return fn(ctx, in)
	}
}

func decode(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apierr.InvalidArgument(apierr.Resource{Type: apierr.ResourceOperation},
			apierr.ReasonMalformedInput, "malformed request body: %v", err)
	}
	return nil
}
