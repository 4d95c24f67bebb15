package ledger

import (
	"context"
	"errors"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxWriteAttempts bounds how many times a write is retried after losing an optimistic-lock race.
const maxWriteAttempts = 128

var ErrWriteConflict = eris.New("gave up after repeated write conflicts")

var _ Store = &RedisStore{}

// RedisStore keeps one layer's objects in redis. Every mutation is a WATCH/MULTI/EXEC transaction on the
// object's key, so concurrent writers to the same object are serialized by redis.
type RedisStore struct {
	client *redis.Client
	layer  Layer
	prefix string
	tracer trace.Tracer
}

type StoreOption func(*RedisStore)

// WithTracer sets the tracer store operations are recorded with. The global otel tracer is used otherwise.
func WithTracer(tracer trace.Tracer) StoreOption {
	return func(r *RedisStore) {
		if tracer != nil {
			r.tracer = tracer
		}
	}
}

// NewRedisStore returns the store for layer. Keys are namespaced by prefix so both layers may share one redis.
func NewRedisStore(client *redis.Client, layer Layer, prefix string, opts ...StoreOption) *RedisStore {
	r := &RedisStore{
		client: client,
		layer:  layer,
		prefix: prefix,
		tracer: otel.Tracer("ledger.redis"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisStore) Layer() Layer {
	return r.layer
}

func (r *RedisStore) key(addr Address) string {
	return r.prefix + ":" + r.layer.String() + ":" + addr.Hex()
}

func (r *RedisStore) Create(ctx context.Context, addr Address, rec Record) (err error) {
	ctx, span := r.startSpan(ctx, "ledger.create", addr)
	defer func() { endSpan(span, err) }()

	bz, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "failed to marshal record")
	}
	created, err := r.client.SetNX(ctx, r.key(addr), bz, 0).Result()
	if err != nil {
		return eris.Wrap(err, "failed to create object")
	}
	if !created {
		return eris.Wrapf(ErrDuplicateObject, "address %s on %s layer", addr.Hex(), r.layer)
	}
	return nil
}

func (r *RedisStore) Read(ctx context.Context, addr Address) (rec Record, err error) {
	ctx, span := r.startSpan(ctx, "ledger.read", addr)
	defer func() { endSpan(span, err) }()

	bz, err := r.client.Get(ctx, r.key(addr)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, eris.Wrapf(ErrObjectNotFound, "address %s on %s layer", addr.Hex(), r.layer)
	}
	if err != nil {
		return Record{}, eris.Wrap(err, "failed to read object")
	}
	if err := json.Unmarshal(bz, &rec); err != nil {
		return Record{}, eris.Wrap(err, "failed to unmarshal record")
	}
	return rec, nil
}

func (r *RedisStore) Write(ctx context.Context, addr Address, fn WriteFunc) (err error) {
	ctx, span := r.startSpan(ctx, "ledger.write", addr)
	defer func() { endSpan(span, err) }()

	return r.update(ctx, addr, func(rec *Record) error {
		if rec.Owner != r.layer {
			return eris.Wrapf(ErrNotOwner, "address %s is owned by the %s layer, not %s",
				addr.Hex(), rec.Owner, r.layer)
		}
		data, err := fn(rec.Data)
		if err != nil {
			return err
		}
		rec.Data = data
		return nil
	})
}

func (r *RedisStore) Transfer(
	ctx context.Context, addr Address, from, to Layer, validator string, data []byte,
) (err error) {
	ctx, span := r.startSpan(ctx, "ledger.transfer", addr)
	span.SetAttributes(attribute.String("from", from.String()), attribute.String("to", to.String()))
	defer func() { endSpan(span, err) }()

	return r.update(ctx, addr, func(rec *Record) error {
		if rec.Owner != from {
			return eris.Wrapf(ErrNotOwner, "address %s is owned by the %s layer, not %s",
				addr.Hex(), rec.Owner, from)
		}
		rec.Owner = to
		rec.Validator = validator
		if data != nil {
			rec.Data = data
		}
		return nil
	})
}

func (r *RedisStore) Delete(ctx context.Context, addr Address) (err error) {
	ctx, span := r.startSpan(ctx, "ledger.delete", addr)
	defer func() { endSpan(span, err) }()

	if err := r.client.Del(ctx, r.key(addr)).Err(); err != nil {
		return eris.Wrap(err, "failed to delete object")
	}
	return nil
}

// update runs fn against the current record inside an optimistic transaction, retrying when another client
// changed the key between the read and the write.
func (r *RedisStore) update(ctx context.Context, addr Address, fn func(rec *Record) error) error {
	key := r.key(addr)
	txf := func(tx *redis.Tx) error {
		bz, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return eris.Wrapf(ErrObjectNotFound, "address %s on %s layer", addr.Hex(), r.layer)
		}
		if err != nil {
			return eris.Wrap(err, "failed to read object")
		}
		var rec Record
		if err := json.Unmarshal(bz, &rec); err != nil {
			return eris.Wrap(err, "failed to unmarshal record")
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.Version++
		out, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrap(err, "failed to marshal record")
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWriteAttempts; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return eris.Wrapf(ErrWriteConflict, "address %s on %s layer", addr.Hex(), r.layer)
}

func (r *RedisStore) startSpan(ctx context.Context, name string, addr Address) (context.Context, trace.Span) {
	ctx, span := r.tracer.Start(ctx, name)
	span.SetAttributes(
		attribute.String("layer", r.layer.String()),
		attribute.String("address", addr.Hex()),
	)
	return ctx, span
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
