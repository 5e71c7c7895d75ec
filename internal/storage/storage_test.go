package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SanishKumar/comfy-service/internal/config"
)

func TestFilename(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local)
	seed := uint32(42)
	zero := uint32(0)

	cases := []struct {
		name   string
		prompt string
		seed   *uint32
		want   string
	}{
		{"plain", "a cat on a mat", nil, "20240309_140507_a_cat_on_a_mat.png"},
		{"explicit seed", "a cat", &seed, "20240309_140507_a_cat_seed42.png"},
		{"seed zero", "a cat", &zero, "20240309_140507_a_cat_seed0.png"},
		{"punctuation dropped", "  hello, world! (4k) ", nil, "20240309_140507_hello_world_4k.png"},
		{"keeps dash and underscore", "red-fox_2", nil, "20240309_140507_red-fox_2.png"},
		{"unicode letters", "chat très mignon", nil, "20240309_140507_chat_très_mignon.png"},
		{"only symbols", "!!!", nil, "20240309_140507_.png"},
		{"truncated", strings.Repeat("ab", 40), nil, "20240309_140507_" + strings.Repeat("ab", 25) + ".png"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Filename(now, tc.prompt, tc.seed))
		})
	}
}

func TestFilenameTruncatesBeforeFiltering(t *testing.T) {
	prompt := strings.Repeat("!", 50) + "tail"
	assert.Equal(t, "20240309_140507_.png", Filename(time.Date(2024, 3, 9, 14, 5, 7, 0, time.Local), prompt, nil))
}

func TestLocalStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	store, err := NewLocalStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	older, err := store.Save(ctx, "older.png", []byte("1234"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "older.png"), older)

	newer, err := store.Save(ctx, "newer.png", []byte("12"))
	require.NoError(t, err)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(older, past, past))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644))

	info, err := os.Stat(newer)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	images, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "newer.png", images[0].Filename)
	assert.Equal(t, int64(2), images[0].SizeBytes)
	assert.Equal(t, newer, images[0].Path)
	assert.Equal(t, "older.png", images[1].Filename)
	assert.Equal(t, int64(4), images[1].SizeBytes)
}

func TestLocalStoreOverwrites(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Save(ctx, "same.png", []byte("first"))
	require.NoError(t, err)
	path, err := store.Save(ctx, "same.png", []byte("second"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestLocalStoreEmpty(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	images, err := store.List(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, images)
	assert.Empty(t, images)
}

type fakeS3 struct {
	puts  map[string][]byte
	pages [][]s3types.Object
	err   error
}

func (f *fakeS3) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(params.Bucket)+"/"+aws.ToString(params.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if f.err != nil {
		return nil, f.err
	}
	page := 0
	if params.ContinuationToken != nil {
		page = len(aws.ToString(params.ContinuationToken))
	}
	out := &s3.ListObjectsV2Output{Contents: f.pages[page]}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(strings.Repeat("x", page+1))
	}
	return out, nil
}

func object(key string, size int64, modified time.Time) s3types.Object {
	return s3types.Object{Key: aws.String(key), Size: aws.Int64(size), LastModified: aws.Time(modified)}
}

func TestS3Store(t *testing.T) {
	now := time.Now()
	client := &fakeS3{
		puts: map[string][]byte{},
		pages: [][]s3types.Object{
			{object("images/a.png", 10, now.Add(-2*time.Hour)), object("images/notes.txt", 1, now)},
			{object("images/b.png", 20, now), object("images/nested/c.png", 5, now)},
		},
	}
	store := NewS3Store(client, "bucket", "/images/")

	path, err := store.Save(context.Background(), "b.png", []byte("png"))
	require.NoError(t, err)
	assert.Equal(t, "s3://bucket/images/b.png", path)
	assert.Equal(t, []byte("png"), client.puts["bucket/images/b.png"])

	images, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "b.png", images[0].Filename)
	assert.Equal(t, int64(20), images[0].SizeBytes)
	assert.Equal(t, "s3://bucket/images/b.png", images[0].Path)
	assert.Equal(t, "a.png", images[1].Filename)
}

func TestS3StoreErrors(t *testing.T) {
	client := &fakeS3{err: errors.New("access denied")}
	store := NewS3Store(client, "bucket", "")

	_, err := store.Save(context.Background(), "a.png", []byte("x"))
	assert.ErrorContains(t, err, "access denied")

	_, err = store.List(context.Background())
	assert.ErrorContains(t, err, "access denied")
}

func TestFactory(t *testing.T) {
	f := NewFactory()
	f.newS3Client = func(ctx context.Context) (S3API, error) {
		return &fakeS3{puts: map[string][]byte{}}, nil
	}

	local, err := f.CreateStore(context.Background(), config.OutputConfig{
		Backend:   config.StorageBackendLocal,
		Directory: t.TempDir(),
	})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, local)

	remote, err := f.CreateStore(context.Background(), config.OutputConfig{
		Backend:  config.StorageBackendS3,
		S3Bucket: "bucket",
	})
	require.NoError(t, err)
	assert.IsType(t, &S3Store{}, remote)

	_, err = f.CreateStore(context.Background(), config.OutputConfig{Backend: config.StorageBackendS3})
	assert.ErrorIs(t, err, config.ErrS3BucketRequired)

	_, err = f.CreateStore(context.Background(), config.OutputConfig{Backend: "ftp"})
	assert.Error(t, err)

	assert.True(t, f.ValidateStoreType("s3"))
	assert.False(t, f.ValidateStoreType("ftp"))
}
