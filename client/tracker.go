package client

import (
	"time"

	"go.uber.org/zap"

	"github.com/luma/msnp/protocol"
)

// Flags alter how a Transaction is tracked.
type Flags uint8

const (
	// NoReply transactions get an id but are never registered as pending.
	NoReply Flags = 1 << iota

	// Critical transactions fail their Connection when they time out. They
	// are used during authentication where a lost reply leaves the session
	// wedged.
	Critical

	// NoTrID transactions are written without an id at all, as PNG is.
	// They imply NoReply.
	NoTrID
)

// DefaultTimeout applies to transactions that do not set their own.
const DefaultTimeout = 30 * time.Second

type (
	ReplyFunc func(cmd *protocol.Command)
	ErrorFunc func(err error)
)

// Transaction is one outgoing command and everything needed to resolve it.
type Transaction struct {
	Verb    protocol.Verb
	Params  []string
	Payload []byte

	// Context selects the dispatcher routes used for replies that have no
	// per-transaction callback.
	Context Context

	// Replies are callbacks keyed by the reply verbs that complete the
	// transaction. Without any, a reply echoing Verb completes it.
	Replies map[protocol.Verb]ReplyFunc

	// OnError receives a *protocol.ServerError, ErrTimeout or
	// ErrConnectionClosed.
	OnError ErrorFunc

	Timeout time.Duration
	Flags   Flags

	id   uint32
	stop func() bool
}

// ID returns the transaction id, 0 until the transaction was written.
func (tx *Transaction) ID() uint32 {
	return tx.id
}

// OnReply registers a completion callback for verb.
func (tx *Transaction) OnReply(verb protocol.Verb, fn ReplyFunc) *Transaction {
	if tx.Replies == nil {
		tx.Replies = make(map[protocol.Verb]ReplyFunc)
	}

	tx.Replies[verb] = fn
	return tx
}

func (tx *Transaction) finalVerb(verb protocol.Verb) bool {
	if len(tx.Replies) == 0 {
		return verb == tx.Verb
	}

	// MSG is answered by ACK/NAK while other MSG lines keep arriving
	_, ok := tx.Replies[verb]
	return ok
}

func NewTransaction(verb protocol.Verb, params ...string) *Transaction {
	return &Transaction{Verb: verb, Params: params}
}

// WriteFunc serialises a command onto the transport.
type WriteFunc func(trID uint32, verb protocol.Verb, params []string, payload []byte) error

// RouteFunc reports whether the dispatcher has a route for verb in ctx.
type RouteFunc func(ctx Context, verb protocol.Verb) bool

// Tracker assigns transaction ids, queues transactions until the connection
// is ready and correlates replies with pending transactions. It is only used
// from the executor.
type Tracker struct {
	exec  Executor
	write WriteFunc

	lastID uint32
	ready  bool

	queue   []*Transaction
	pending []*Transaction

	// onCritical is called when a Critical transaction times out.
	onCritical func(err error)

	log *zap.Logger
}

func NewTracker(exec Executor, write WriteFunc, onCritical func(error), log *zap.Logger) *Tracker {
	return &Tracker{
		exec:       exec,
		write:      write,
		onCritical: onCritical,
		log:        log,
	}
}

func (t *Tracker) Ready() bool {
	return t.ready
}

// Pending returns the number of transactions waiting for a reply.
func (t *Tracker) Pending() int {
	return len(t.pending)
}

// Queued returns the number of transactions waiting for SetReady.
func (t *Tracker) Queued() int {
	return len(t.queue)
}

// LastID returns the most recently assigned id.
func (t *Tracker) LastID() uint32 {
	return t.lastID
}

// Send writes tx if the tracker is ready, otherwise queues it.
func (t *Tracker) Send(tx *Transaction) error {
	if !t.ready {
		t.queue = append(t.queue, tx)
		return nil
	}

	return t.SendNow(tx)
}

// SendNow writes tx immediately, bypassing the not-ready queue.
func (t *Tracker) SendNow(tx *Transaction) error {
	if tx.Flags&NoTrID != 0 {
		return t.write(0, tx.Verb, tx.Params, tx.Payload)
	}

	t.lastID++
	tx.id = t.lastID

	if err := t.write(tx.id, tx.Verb, tx.Params, tx.Payload); err != nil {
		return err
	}

	if tx.Flags&NoReply != 0 {
		return nil
	}

	t.pending = append(t.pending, tx)

	timeout := tx.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	id := tx.id
	tx.stop = t.exec.AfterFunc(timeout, func() {
		t.expire(id)
	})

	return nil
}

// SetReady flushes the queue, in send order, exactly once. Later calls are
// no-ops.
func (t *Tracker) SetReady() error {
	if t.ready {
		return nil
	}

	t.ready = true

	queue := t.queue
	t.queue = nil

	for i, tx := range queue {
		if err := t.SendNow(tx); err != nil {
			// Put back what we could not write so Abort reports it
			t.queue = append(t.queue, queue[i:]...)
			return err
		}
	}

	return nil
}

// Match resolves a non-numeric inbound command against the pending
// transactions. The oldest transaction whose reply verbs (its own verb when
// it declares none) or a dispatcher route for the command matches wins. The
// transaction is removed and its timer stopped before it is returned.
func (t *Tracker) Match(cmd *protocol.Command, routes RouteFunc) *Transaction {
	echoed, hasID := cmd.TrID()
	if hasID && echoed == 0 {
		// Unsolicited commands such as "ADD 0 RL ..." echo a zero id
		return nil
	}

	for i, tx := range t.pending {
		if !tx.finalVerb(cmd.Verb) && (routes == nil || tx.Context == Unsolicited || !routes(tx.Context, cmd.Verb)) {
			continue
		}

		if hasID && echoed != tx.id {
			if !t.isPending(echoed) && echoed <= t.lastID {
				// A late reply to a transaction that already completed or
				// timed out must not resolve a newer one
				t.log.Debug("Ignoring stale reply",
					zap.Stringer("verb", cmd.Verb),
					zap.Uint32("echoed", echoed))
				return nil
			}

			t.log.Warn("Reply echoes a different transaction, matching by verb order",
				zap.Stringer("verb", cmd.Verb),
				zap.Uint32("echoed", echoed),
				zap.Uint32("matched", tx.id))
		}

		t.remove(i)
		return tx
	}

	return nil
}

// MatchError resolves a numeric error line. An echoed id resolves only the
// transaction it names: errors for transactions that timed out or were never
// tracked (NoReply) resolve nothing. Lines without an id fall back to the
// most recently sent pending transaction.
func (t *Tracker) MatchError(cmd *protocol.Command) *Transaction {
	if len(t.pending) == 0 {
		return nil
	}

	if echoed, ok := cmd.TrID(); ok {
		for i, tx := range t.pending {
			if tx.id == echoed {
				t.remove(i)
				return tx
			}
		}

		t.log.Debug("Error echoes no pending transaction",
			zap.Stringer("verb", cmd.Verb),
			zap.Uint32("echoed", echoed))

		return nil
	}

	i := len(t.pending) - 1
	tx := t.pending[i]
	t.remove(i)

	return tx
}

// Abort fails every pending and queued transaction with err.
func (t *Tracker) Abort(err error) {
	pending := t.pending
	queue := t.queue

	t.pending = nil
	t.queue = nil

	for _, tx := range pending {
		t.finish(tx)
	}

	for _, tx := range append(pending, queue...) {
		if tx.OnError != nil {
			tx.OnError(err)
		}
	}
}

func (t *Tracker) expire(id uint32) {
	for i, tx := range t.pending {
		if tx.id != id {
			continue
		}

		t.remove(i)

		t.log.Warn("Transaction timed out",
			zap.Stringer("verb", tx.Verb),
			zap.Uint32("trid", tx.id))

		if tx.OnError != nil {
			tx.OnError(ErrTimeout)
		}

		if tx.Flags&Critical != 0 && t.onCritical != nil {
			t.onCritical(ErrTimeout)
		}

		return
	}
}

func (t *Tracker) isPending(id uint32) bool {
	for _, tx := range t.pending {
		if tx.id == id {
			return true
		}
	}

	return false
}

func (t *Tracker) remove(i int) {
	tx := t.pending[i]
	t.pending = append(t.pending[:i:i], t.pending[i+1:]...)
	t.finish(tx)
}

func (t *Tracker) finish(tx *Transaction) {
	if tx.stop != nil {
		tx.stop()
		tx.stop = nil
	}
}
