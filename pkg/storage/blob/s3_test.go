package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/lineage/pkg/storage"
)

type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	metadata map[string]map[string]string
	buckets  map[string]bool
	puts     int
	headErr  error
	putErr   error
	getErr   error
	createEr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects:  make(map[string][]byte),
		metadata: make(map[string]map[string]string),
		buckets:  make(map[string]bool),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Key)] = data
	f.metadata[aws.ToString(in.Key)] = in.Metadata
	f.puts++
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.headErr != nil {
		return nil, f.headErr
	}
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets[aws.ToString(in.Bucket)] {
		return nil, &types.NotFound{}
	}
	return &s3.HeadBucketOutput{}, nil
}

func (f *fakeS3) CreateBucket(ctx context.Context, in *s3.CreateBucketInput, _ ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createEr != nil {
		return nil, f.createEr
	}
	f.buckets[aws.ToString(in.Bucket)] = true
	return &s3.CreateBucketOutput{}, nil
}

func TestKeyAndHash(t *testing.T) {
	hash := Hash([]byte("hello"))
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", hash)
	assert.Equal(t, "schemas/sha256/2c/f24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", Key(hash))
}

func TestS3Store_PutGet(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "schemas")

	content := []byte(`{"type":"record","name":"User","fields":[]}`)
	hash, err := store.PutContent(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, Hash(content), hash)
	assert.Equal(t, hash, fake.metadata[Key(hash)][checksumKey])

	got, err := store.GetContent(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestS3Store_PutDeduplicates(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "schemas")

	first, err := store.PutContent(ctx, []byte("same"))
	require.NoError(t, err)
	second, err := store.PutContent(ctx, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, fake.puts)
}

func TestS3Store_GetMissing(t *testing.T) {
	store := NewS3StoreWithClient(newFakeS3(), "schemas")
	_, err := store.GetContent(context.Background(), Hash([]byte("absent")))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestS3Store_GetRejectsInvalidHash(t *testing.T) {
	store := NewS3StoreWithClient(newFakeS3(), "schemas")
	for _, hash := range []string{"", "abc", "zz" + Hash(nil)[2:]} {
		_, err := store.GetContent(context.Background(), hash)
		assert.Error(t, err, hash)
		assert.NotErrorIs(t, err, storage.ErrNotFound)
	}
}

func TestS3Store_GetDetectsCorruption(t *testing.T) {
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "schemas")
	hash := Hash([]byte("original"))
	fake.objects[Key(hash)] = []byte("tampered")

	_, err := store.GetContent(context.Background(), hash)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "digest mismatch")
}

func TestS3Store_Errors(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	fake := newFakeS3()
	fake.headErr = boom
	_, err := NewS3StoreWithClient(fake, "schemas").PutContent(ctx, []byte("x"))
	assert.ErrorIs(t, err, boom)

	fake = newFakeS3()
	fake.putErr = boom
	_, err = NewS3StoreWithClient(fake, "schemas").PutContent(ctx, []byte("x"))
	assert.ErrorIs(t, err, boom)

	fake = newFakeS3()
	fake.getErr = boom
	_, err = NewS3StoreWithClient(fake, "schemas").GetContent(ctx, Hash([]byte("x")))
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestS3Store_EnsureBucket(t *testing.T) {
	ctx := context.Background()
	fake := newFakeS3()
	store := NewS3StoreWithClient(fake, "schemas")

	assert.Error(t, store.HealthCheck(ctx))
	require.NoError(t, store.ensureBucket(ctx))
	assert.True(t, fake.buckets["schemas"])
	assert.NoError(t, store.HealthCheck(ctx))

	other := newFakeS3()
	other.createEr = &types.BucketAlreadyOwnedByYou{}
	assert.NoError(t, NewS3StoreWithClient(other, "schemas").ensureBucket(ctx))

	other.createEr = errors.New("access denied")
	assert.Error(t, NewS3StoreWithClient(other, "schemas").ensureBucket(ctx))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&types.NotFound{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("NotFound")))
}
