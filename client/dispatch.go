package client

import (
	"go.uber.org/zap"

	"github.com/luma/msnp/protocol"
)

// Context names the phase a transaction belongs to so the same verb can be
// routed differently, e.g. a USR reply during authentication versus on a
// switchboard.
type Context string

// Unsolicited is the context of commands that matched no transaction.
const Unsolicited Context = ""

type (
	Handler[S any]        func(s S, cmd *protocol.Command, tx *Transaction)
	MessageHandler[S any] func(s S, cmd *protocol.Command, msg *protocol.Message)
	ErrorHandler[S any]   func(s S, err *protocol.ServerError, tx *Transaction)
)

type route struct {
	ctx  Context
	verb protocol.Verb
}

// Table maps (context, verb) pairs to handlers for one connection role. It is
// built once with NewTable and never mutated afterwards, so one Table can be
// shared by every connection of that role.
type Table[S any] struct {
	name     string
	routes   map[route]Handler[S]
	messages map[string]MessageHandler[S]
	errors   map[protocol.Verb]ErrorHandler[S]
	fallback Handler[S]
}

type TableOption[S any] func(t *Table[S])

func NewTable[S any](name string, opts ...TableOption[S]) *Table[S] {
	t := &Table[S]{
		name:     name,
		routes:   make(map[route]Handler[S]),
		messages: make(map[string]MessageHandler[S]),
		errors:   make(map[protocol.Verb]ErrorHandler[S]),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// On routes verb in ctx to h.
func On[S any](ctx Context, verb protocol.Verb, h Handler[S]) TableOption[S] {
	return func(t *Table[S]) {
		t.routes[route{ctx, verb}] = h
	}
}

// OnMessage routes MSG payloads of the given content type to h. The content
// type is compared without parameters.
func OnMessage[S any](contentType string, h MessageHandler[S]) TableOption[S] {
	return func(t *Table[S]) {
		t.messages[contentType] = h
	}
}

// OnError handles server errors answering a transaction of verb.
func OnError[S any](verb protocol.Verb, h ErrorHandler[S]) TableOption[S] {
	return func(t *Table[S]) {
		t.errors[verb] = h
	}
}

// Fallback handles commands with no route.
func Fallback[S any](h Handler[S]) TableOption[S] {
	return func(t *Table[S]) {
		t.fallback = h
	}
}

// With returns a copy of the table with extra options applied, the receiver
// is left untouched.
func (t *Table[S]) With(name string, opts ...TableOption[S]) *Table[S] {
	c := NewTable[S](name)

	for k, v := range t.routes {
		c.routes[k] = v
	}
	for k, v := range t.messages {
		c.messages[k] = v
	}
	for k, v := range t.errors {
		c.errors[k] = v
	}
	c.fallback = t.fallback

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (t *Table[S]) Name() string {
	return t.name
}

// Routes reports whether ctx has an explicit route for verb.
func (t *Table[S]) Routes(ctx Context, verb protocol.Verb) bool {
	_, ok := t.routes[route{ctx, verb}]
	return ok
}

func (t *Table[S]) lookup(ctx Context, verb protocol.Verb) (Handler[S], bool) {
	if h, ok := t.routes[route{ctx, verb}]; ok {
		return h, true
	}

	if ctx != Unsolicited {
		if h, ok := t.routes[route{Unsolicited, verb}]; ok {
			return h, true
		}
	}

	return nil, false
}

// Dispatcher is a Table bound to the subject its handlers operate on.
type Dispatcher interface {
	Name() string
	Routes(ctx Context, verb protocol.Verb) bool

	// Dispatch runs the handler for cmd. tx is the transaction cmd resolved,
	// or nil.
	Dispatch(cmd *protocol.Command, tx *Transaction)

	// DispatchError runs the per-verb error handler and reports whether one
	// existed.
	DispatchError(err *protocol.ServerError, tx *Transaction) bool
}

type binding[S any] struct {
	table   *Table[S]
	subject S
	log     *zap.Logger
}

// Bind ties a table to its subject.
func Bind[S any](table *Table[S], subject S, log *zap.Logger) Dispatcher {
	return &binding[S]{
		table:   table,
		subject: subject,
		log:     log.With(zap.String("table", table.name)),
	}
}

func (b *binding[S]) Name() string {
	return b.table.name
}

func (b *binding[S]) Routes(ctx Context, verb protocol.Verb) bool {
	return b.table.Routes(ctx, verb)
}

func (b *binding[S]) Dispatch(cmd *protocol.Command, tx *Transaction) {
	ctx := Unsolicited
	if tx != nil {
		ctx = tx.Context
	}

	if h, ok := b.table.lookup(ctx, cmd.Verb); ok {
		h(b.subject, cmd, tx)
		return
	}

	if cmd.Verb == protocol.MSG && cmd.Payload != nil {
		b.dispatchMessage(cmd)
		return
	}

	if b.table.fallback != nil {
		b.table.fallback(b.subject, cmd, tx)
		return
	}

	b.log.Debug("Dropping unhandled command", zap.Stringer("cmd", cmd))
}

func (b *binding[S]) dispatchMessage(cmd *protocol.Command) {
	msg, err := protocol.ParseMessage(cmd.Payload)
	if err != nil {
		b.log.Warn("Dropping malformed message", zap.Stringer("cmd", cmd), zap.Error(err))
		return
	}

	h, ok := b.table.messages[msg.ContentType]
	if !ok {
		b.log.Debug("Ignoring message with unknown content type",
			zap.String("contentType", msg.ContentType))
		return
	}

	h(b.subject, cmd, msg)
}

func (b *binding[S]) DispatchError(err *protocol.ServerError, tx *Transaction) bool {
	if tx == nil {
		return false
	}

	h, ok := b.table.errors[tx.Verb]
	if !ok {
		return false
	}

	h(b.subject, err, tx)
	return true
}
