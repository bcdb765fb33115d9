// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package ipc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"
)

// ErrTypeMismatch is returned by callbacks when an argument has the wrong type.
var ErrTypeMismatch = errs.Class("argument type mismatch")

// ErrorKind classifies the outcome of a dispatch.
type ErrorKind int

// Dispatch outcomes.
const (
	DispatchOK ErrorKind = iota
	CallbackNotFound
	CallbackRaised
	TypeMismatch
	MalformedMessage
)

// String implements fmt.Stringer.
func (kind ErrorKind) String() string {
	switch kind {
	case DispatchOK:
		return "ok"
	case CallbackNotFound:
		return "callback not found"
	case CallbackRaised:
		return "callback raised"
	case TypeMismatch:
		return "type mismatch"
	case MalformedMessage:
		return "malformed message"
	default:
		return "unknown"
	}
}

// DispatchResult is the outcome of handling one message.
type DispatchResult struct {
	Kind  ErrorKind
	Value interface{}
	Err   error
}

// OK returns whether the message was handled without error.
func (result DispatchResult) OK() bool { return result.Kind == DispatchOK }

// Callback handles an RPC or query.
type Callback func(ctx context.Context, msg *Message) (interface{}, error)

// Property is a value that can be changed with UpdateProperty messages.
type Property struct {
	Get func() interface{}
	Set func(value interface{}) error
}

// Dispatcher routes incoming messages to registered callbacks and properties.
type Dispatcher struct {
	log *zap.Logger

	mu         sync.RWMutex
	callbacks  map[string]Callback
	properties map[string]Property
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		log:        log,
		callbacks:  map[string]Callback{},
		properties: map[string]Property{},
	}
}

// Register exposes a callback under name, usually "<routine>.<method>".
func (dispatcher *Dispatcher) Register(name string, callback Callback) error {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	if _, exists := dispatcher.callbacks[name]; exists {
		return Error.New("callback %q already registered", name)
	}
	dispatcher.callbacks[name] = callback
	return nil
}

// RegisterProperty exposes a property under name.
func (dispatcher *Dispatcher) RegisterProperty(name string, property Property) error {
	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()

	if _, exists := dispatcher.properties[name]; exists {
		return Error.New("property %q already registered", name)
	}
	dispatcher.properties[name] = property
	return nil
}

// Callbacks returns the registered callback names, sorted.
func (dispatcher *Dispatcher) Callbacks() []string {
	dispatcher.mu.RLock()
	defer dispatcher.mu.RUnlock()

	names := make([]string, 0, len(dispatcher.callbacks))
	for name := range dispatcher.callbacks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Property returns the current value of a property.
func (dispatcher *Dispatcher) Property(name string) (interface{}, bool) {
	dispatcher.mu.RLock()
	property, ok := dispatcher.properties[name]
	dispatcher.mu.RUnlock()
	if !ok || property.Get == nil {
		return nil, false
	}
	return property.Get(), true
}

// Dispatch handles msg. Failures are reported in the result and logged; they
// never stop the caller.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, msg *Message) (result DispatchResult) {
	defer func() {
		if !result.OK() {
			mon.Counter("dispatch_failures", monkit.NewSeriesTag("kind", result.Kind.String())).Inc(1)
			dispatcher.log.Warn("dispatch failed",
				zap.Stringer("signal", msg.Signal),
				zap.String("name", msg.Name),
				zap.String("sender", string(msg.Sender)),
				zap.Stringer("kind", result.Kind),
				zap.Error(result.Err))
		}
	}()

	if msg.Name == "" {
		return DispatchResult{Kind: MalformedMessage, Err: Error.New("message without name")}
	}

	switch msg.Signal {
	case SignalUpdateProperty:
		return dispatcher.updateProperty(msg)
	case SignalRPC, SignalQuery:
		dispatcher.mu.RLock()
		callback, ok := dispatcher.callbacks[msg.Name]
		dispatcher.mu.RUnlock()
		if !ok {
			return DispatchResult{Kind: CallbackNotFound, Err: Error.New("no callback %q", msg.Name)}
		}
		return call(ctx, callback, msg)
	default:
		return DispatchResult{Kind: MalformedMessage, Err: Error.New("cannot dispatch %s", msg.Signal)}
	}
}

func (dispatcher *Dispatcher) updateProperty(msg *Message) DispatchResult {
	dispatcher.mu.RLock()
	property, ok := dispatcher.properties[msg.Name]
	dispatcher.mu.RUnlock()
	if !ok || property.Set == nil {
		return DispatchResult{Kind: CallbackNotFound, Err: Error.New("no property %q", msg.Name)}
	}

	args := msg.Arguments()
	if len(args) != 1 {
		return DispatchResult{Kind: MalformedMessage, Err: Error.New("property %q update needs one value, got %d", msg.Name, len(args))}
	}
	if err := property.Set(args[0]); err != nil {
		return classify(err)
	}
	return DispatchResult{Kind: DispatchOK}
}

func call(ctx context.Context, callback Callback, msg *Message) (result DispatchResult) {
	defer func() {
		if r := recover(); r != nil {
			result = DispatchResult{Kind: CallbackRaised, Err: Error.New("callback %q panicked: %v", msg.Name, r)}
		}
	}()

	value, err := callback(ctx, msg)
	if err != nil {
		return classify(err)
	}
	return DispatchResult{Kind: DispatchOK, Value: value}
}

func classify(err error) DispatchResult {
	if ErrTypeMismatch.Has(err) {
		return DispatchResult{Kind: TypeMismatch, Err: err}
	}
	return DispatchResult{Kind: CallbackRaised, Err: err}
}

// Arg decodes positional argument i of msg as T. Numbers arrive as float64
// and are converted to integer types when integral.
func Arg[T any](msg *Message, i int) (value T, err error) {
	args := msg.Arguments()
	if i >= len(args) {
		return value, ErrTypeMismatch.New("%q: missing argument %d", msg.Name, i)
	}
	return convert[T](msg.Name, args[i])
}

// Kwarg decodes keyword argument key of msg as T, returning fallback when absent.
func Kwarg[T any](msg *Message, key string, fallback T) (T, error) {
	raw, ok := msg.Keywords()[key]
	if !ok {
		return fallback, nil
	}
	return convert[T](msg.Name, raw)
}

func convert[T any](name string, raw interface{}) (value T, err error) {
	switch target := any(&value).(type) {
	case *int:
		n, ok := AsInt(raw)
		if !ok {
			return value, mismatch(name, raw, "int")
		}
		*target = n
		return value, nil
	case *int64:
		n, ok := AsInt(raw)
		if !ok {
			return value, mismatch(name, raw, "int64")
		}
		*target = int64(n)
		return value, nil
	case *Role:
		s, ok := raw.(string)
		if !ok {
			return value, mismatch(name, raw, "role")
		}
		role, err := ParseRole(s)
		if err != nil {
			return value, ErrTypeMismatch.Wrap(err)
		}
		*target = role
		return value, nil
	}

	v, ok := raw.(T)
	if !ok {
		return value, mismatch(name, raw, fmt.Sprintf("%T", value))
	}
	return v, nil
}

func mismatch(name string, raw interface{}, want string) error {
	return ErrTypeMismatch.New("%q: got %T, expected %s", name, raw, want)
}
