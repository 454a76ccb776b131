package processor_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imageq/internal/processor"
	"imageq/internal/storage"
	"imageq/internal/transform"
)

const (
	origBucket = "original-images"
	procBucket = "processed-images"
	objectKey  = "1700000000_0123456789ab_cat.png"
)

func catPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetNRGBA(0, 0, color.NRGBA{A: 0})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func body(key string) []byte {
	return []byte(`{"bucket_original":"` + origBucket + `","bucket_processed":"` + procBucket + `","object_name":"` + key + `"}`)
}

func seeded(t *testing.T) *storage.Memory {
	t.Helper()
	ctx := context.Background()
	m := storage.NewMemory()
	require.NoError(t, m.CreateBucket(ctx, origBucket))
	require.NoError(t, m.Put(ctx, origBucket, objectKey, catPNG(t), "image/png"))
	return m
}

func TestProcessStoresResult(t *testing.T) {
	store := seeded(t)
	p := processor.New(store, transform.JPEG{Quality: 50})

	out, err := p.Process(context.Background(), body(objectKey))
	require.NoError(t, err)
	assert.Equal(t, "compressed_"+objectKey, out.ResultKey)
	assert.Equal(t, objectKey, out.Envelope.ObjectKey)

	obj, err := store.Get(context.Background(), procBucket, "compressed_"+objectKey)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", obj.ContentType)
	assert.Equal(t, out.Bytes, len(obj.Data))
}

func TestProcessIsIdempotent(t *testing.T) {
	store := seeded(t)
	p := processor.New(store, transform.JPEG{Quality: 50})

	first, err := p.Process(context.Background(), body(objectKey))
	require.NoError(t, err)
	firstObj, err := store.Get(context.Background(), procBucket, first.ResultKey)
	require.NoError(t, err)

	second, err := p.Process(context.Background(), body(objectKey))
	require.NoError(t, err)

	assert.Equal(t, first.ResultKey, second.ResultKey)
	assert.Equal(t, []string{"compressed_" + objectKey}, store.Keys(procBucket))

	secondObj, err := store.Get(context.Background(), procBucket, second.ResultKey)
	require.NoError(t, err)
	assert.Equal(t, firstObj.Data, secondObj.Data)
}

func TestProcessMissingObjectIsDataFault(t *testing.T) {
	store := seeded(t)
	store.Delete(origBucket, objectKey)
	p := processor.New(store, transform.JPEG{})

	_, err := p.Process(context.Background(), body(objectKey))
	require.Error(t, err)
	assert.Equal(t, processor.KindData, processor.KindOf(err))
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	var fault *processor.Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, objectKey, fault.Envelope.ObjectKey)
	assert.Equal(t, "fetch", fault.Step)
	assert.Empty(t, store.Keys(procBucket), "nothing may be written")
	assert.Equal(t, 0, store.Calls("Put")-1, "only the seeding put")
}

func TestProcessMalformedBodyTouchesNoStore(t *testing.T) {
	bodies := map[string]string{
		"not json":       `not json at all`,
		"missing key":    `{"bucket_original":"a","bucket_processed":"b"}`,
		"missing bucket": `{"bucket_processed":"b","object_name":"k"}`,
		"empty":          ``,
	}
	for name, b := range bodies {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemory()
			p := processor.New(store, transform.JPEG{})

			_, err := p.Process(context.Background(), []byte(b))
			require.Error(t, err)
			assert.Equal(t, processor.KindDecode, processor.KindOf(err))
			assert.Equal(t, 0, store.TotalCalls())
		})
	}
}

func TestProcessUndecodableImageIsDataFault(t *testing.T) {
	store := seeded(t)
	require.NoError(t, store.Put(context.Background(), origBucket, "bad.png", []byte("garbage"), "image/png"))
	p := processor.New(store, transform.JPEG{})

	_, err := p.Process(context.Background(), body("bad.png"))
	assert.Equal(t, processor.KindData, processor.KindOf(err))
	assert.ErrorIs(t, err, transform.ErrUndecodable)
}

type brokenTransform struct{}

func (brokenTransform) Name() string { return "broken" }

func (brokenTransform) Transform([]byte, string) (transform.Result, error) {
	return transform.Result{}, errors.New("encoder exploded")
}

func TestProcessTransformFault(t *testing.T) {
	store := seeded(t)
	p := processor.New(store, brokenTransform{})

	_, err := p.Process(context.Background(), body(objectKey))
	assert.Equal(t, processor.KindTransform, processor.KindOf(err))
	assert.Empty(t, store.Keys(procBucket))
}

type unreachableStore struct {
	*storage.Memory
	failPut bool
}

func (u unreachableStore) BucketExists(ctx context.Context, bucket string) (bool, error) {
	if u.failPut {
		return u.Memory.BucketExists(ctx, bucket)
	}
	return false, errors.New("dial tcp: connection refused")
}

func (u unreachableStore) Put(context.Context, string, string, []byte, string) error {
	return errors.New("disk full")
}

func TestProcessInfrastructureFaults(t *testing.T) {
	t.Run("bucket check", func(t *testing.T) {
		p := processor.New(unreachableStore{Memory: seeded(t)}, transform.JPEG{})
		_, err := p.Process(context.Background(), body(objectKey))
		assert.Equal(t, processor.KindInfrastructure, processor.KindOf(err))
	})

	t.Run("store result", func(t *testing.T) {
		p := processor.New(unreachableStore{Memory: seeded(t), failPut: true}, transform.JPEG{})
		_, err := p.Process(context.Background(), body(objectKey))
		assert.Equal(t, processor.KindInfrastructure, processor.KindOf(err))

		var fault *processor.Fault
		require.True(t, errors.As(err, &fault))
		assert.Equal(t, "store", fault.Step)
	})
}

func TestProcessCreatesMissingBuckets(t *testing.T) {
	store := storage.NewMemory()
	p := processor.New(store, transform.JPEG{})

	_, err := p.Process(context.Background(), body(objectKey))
	assert.Equal(t, processor.KindData, processor.KindOf(err))

	for _, b := range []string{origBucket, procBucket} {
		ok, err := store.BucketExists(context.Background(), b)
		require.NoError(t, err)
		assert.True(t, ok, b)
	}
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, processor.KindTransform, processor.KindOf(errors.New("panic: nil map")))
}
