package processor

import (
	"context"
	"errors"

	"imageq/internal/models"
	"imageq/internal/storage"
	"imageq/internal/transform"
)

// Processor turns one message body into a stored result. It holds no state
// between calls.
type Processor struct {
	store     storage.Store
	transform transform.Transformer
}

// New creates a Processor.
func New(store storage.Store, tr transform.Transformer) *Processor {
	return &Processor{store: store, transform: tr}
}

// Outcome describes a completed task.
type Outcome struct {
	Envelope  models.Envelope
	ResultKey string
	Bytes     int
}

// Process runs the pipeline for one message body:
//  1. decode the envelope
//  2. make sure both buckets exist
//  3. fetch the original
//  4. transform it
//  5. store the result under the derived key
//
// Every failure is returned as a *Fault.
func (p *Processor) Process(ctx context.Context, body []byte) (Outcome, error) {
	env, err := models.DecodeEnvelope(body)
	if err != nil {
		return Outcome{}, newFault(KindDecode, "decode", models.Envelope{}, err)
	}

	if err := storage.EnsureBuckets(ctx, p.store, env.SourceBucket, env.DestinationBucket); err != nil {
		return Outcome{}, newFault(KindInfrastructure, "ensure_buckets", env, err)
	}

	obj, err := p.store.Get(ctx, env.SourceBucket, env.ObjectKey)
	if err != nil {
		kind := KindInfrastructure
		if errors.Is(err, storage.ErrObjectNotFound) {
			kind = KindData
		}
		return Outcome{}, newFault(kind, "fetch", env, err)
	}

	res, err := p.transform.Transform(obj.Data, obj.ContentType)
	if err != nil {
		kind := KindTransform
		if errors.Is(err, transform.ErrUndecodable) {
			kind = KindData
		}
		return Outcome{}, newFault(kind, "transform", env, err)
	}

	key := models.ResultKey(env.ObjectKey)
	if err := p.store.Put(ctx, env.DestinationBucket, key, res.Data, res.ContentType); err != nil {
		return Outcome{}, newFault(KindInfrastructure, "store", env, err)
	}

	return Outcome{Envelope: env, ResultKey: key, Bytes: len(res.Data)}, nil
}
