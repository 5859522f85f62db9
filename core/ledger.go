package core

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"arrayledger/core/events"
	"arrayledger/core/state"
	"arrayledger/native/bank"
	nativecommon "arrayledger/native/common"
	"arrayledger/native/vault"
	"arrayledger/observability"
	"arrayledger/storage"
)

// Unit is the view an operation gets of the ledger while it runs. All of its
// components write to the same pending state.
type Unit struct {
	Vault *vault.Engine
	Bank  *bank.Ledger
	State *state.Manager
}

// Ledger hosts the vault engine and runs every operation as one atomic unit:
// units are serialised, their writes reach the database in a single batch,
// and their events are published only after the batch is written.
type Ledger struct {
	mu      sync.Mutex
	db      storage.Database
	engine  *vault.Engine
	emitter events.Emitter
	logger  *slog.Logger
	tracer  trace.Tracer
}

// Option customises a Ledger.
type Option func(*Ledger)

// WithEmitter sets the subscriber for committed events.
func WithEmitter(emitter events.Emitter) Option {
	return func(l *Ledger) {
		if emitter != nil {
			l.emitter = emitter
		}
	}
}

// WithLogger sets the logger used for unit outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithPauses wires the module pause switches into the engine.
func WithPauses(p nativecommon.PauseView) Option {
	return func(l *Ledger) { l.engine.SetPauses(p) }
}

// WithAdapters registers external protocol adapters.
func WithAdapters(adapters ...vault.ProtocolAdapter) Option {
	return func(l *Ledger) {
		for _, adapter := range adapters {
			if err := l.engine.RegisterAdapter(adapter); err != nil {
				l.logger.Warn("skipping protocol adapter", slog.String("error", err.Error()))
			}
		}
	}
}

// NewLedger wraps db. The caller keeps ownership of db.
func NewLedger(db storage.Database, opts ...Option) *Ledger {
	l := &Ledger{
		db:      db,
		engine:  vault.NewEngine(),
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		tracer:  otel.Tracer("arrayledger/core"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Protocols lists the adapters available for routing.
func (l *Ledger) Protocols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine.Protocols()
}

// Execute runs fn as one atomic unit. Any error from fn, or cancellation of
// ctx observed before the unit commits, discards every write fn made.
func (l *Ledger) Execute(ctx context.Context, op string, fn func(*Unit) error) error {
	return l.run(ctx, op, true, fn)
}

// View runs fn against the committed state. Writes made by fn are dropped.
func (l *Ledger) View(ctx context.Context, fn func(*Unit) error) error {
	return l.run(ctx, "view", false, fn)
}

func (l *Ledger) run(ctx context.Context, op string, commit bool, fn func(*Unit) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, span := l.tracer.Start(ctx, "ledger."+op, trace.WithAttributes(attribute.Bool("ledger.write", commit)))
	defer span.End()
	start := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	mgr := state.NewManager(l.db)
	buffer := &events.Buffer{}
	l.engine.SetState(mgr)
	l.engine.SetEmitter(buffer)
	defer func() {
		l.engine.SetState(nil)
		l.engine.SetEmitter(nil)
	}()

	if err = ctx.Err(); err == nil {
		err = fn(&Unit{Vault: l.engine, Bank: bank.NewLedger(mgr), State: mgr})
	}
	if err == nil && commit {
		if err = ctx.Err(); err == nil {
			err = mgr.Commit()
		}
	}
	if !commit || err != nil {
		mgr.Discard()
		buffer.Drain()
	}

	if !commit {
		return err
	}
	outcome := "committed"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		outcome = "canceled"
	case err != nil:
		outcome = "aborted"
	}
	observability.Ledger().ObserveUnit(op, outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		l.logger.Info("ledger unit aborted", slog.String("op", op), slog.String("outcome", outcome), slog.String("error", err.Error()))
		return err
	}
	published := buffer.Drain()
	for _, ev := range published {
		l.emitter.Emit(ev)
	}
	l.logger.Debug("ledger unit committed", slog.String("op", op), slog.Int("events", len(published)))
	return nil
}
