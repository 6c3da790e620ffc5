package archive

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparkboardhq/sparkboard/kv"
)

func seedStore(t *testing.T) *kv.MemoryStore {
	t.Helper()
	store := kv.NewMemoryStore()
	ctx := context.Background()

	for _, put := range []kv.Put{
		{Key: kv.Key{PK: "acme/idea", SK: "i1"}, Attributes: kv.Attributes{
			"data": []byte(`{"title":"one"}`), "votes": int64(3),
		}},
		{Key: kv.Key{PK: "acme/idea", SK: "i2"}, Attributes: kv.Attributes{
			"data": []byte(`{"title":"two"}`), "votes": int64(1),
		}},
		{Key: kv.Key{PK: "acme/user", SK: "u1"}, Attributes: kv.Attributes{
			"data": []byte(`{"handle":"alice"}`), "balance": int64(70), "vip": true,
		}},
		{Key: kv.Key{PK: "globex/idea", SK: "x1"}, Attributes: kv.Attributes{
			"data": []byte(`{"title":"foreign"}`),
		}},
	} {
		require.NoError(t, store.Put(ctx, put))
	}
	return store
}

func TestExportRestoreRoundTrip(t *testing.T) {
	for _, comp := range []Compression{S2{}, LZ4{}} {
		t.Run(comp.Name(), func(t *testing.T) {
			ctx := context.Background()
			source := seedStore(t)
			dest := NewMemoryStore()

			exp := NewExporter(source, dest, comp, nil, nil)
			exp.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

			name, count, err := exp.Export(ctx, "acme", []string{"acme/idea", "acme/user"})
			require.NoError(t, err)
			assert.Equal(t, 3, count)
			assert.True(t, strings.HasPrefix(name, "acme/"))
			assert.True(t, strings.HasSuffix(name, ".ndjson."+comp.Name()))

			// Restore into a fresh store and compare attribute for
			// attribute, types included.
			target := kv.NewMemoryStore()
			restore := NewExporter(target, dest, comp, nil, nil)
			restored, err := restore.Restore(ctx, name)
			require.NoError(t, err)
			assert.Equal(t, 3, restored)

			attrs, err := target.Get(ctx, kv.Key{PK: "acme/idea", SK: "i1"})
			require.NoError(t, err)
			assert.Equal(t, []byte(`{"title":"one"}`), attrs.Bytes("data"))
			assert.Equal(t, int64(3), attrs.Int("votes"))

			attrs, err = target.Get(ctx, kv.Key{PK: "acme/user", SK: "u1"})
			require.NoError(t, err)
			assert.Equal(t, int64(70), attrs.Int("balance"))
			assert.Equal(t, true, attrs["vip"])

			// Partitions outside the export stay absent.
			_, err = target.Get(ctx, kv.Key{PK: "globex/idea", SK: "x1"})
			require.ErrorIs(t, err, kv.ErrNotFound)
		})
	}
}

func TestRestoreUnknownBlob(t *testing.T) {
	exp := NewExporter(kv.NewMemoryStore(), NewMemoryStore(), nil, nil, nil)
	_, err := exp.Restore(context.Background(), "acme/nope.ndjson.s2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRestoreUnknownCompression(t *testing.T) {
	exp := NewExporter(kv.NewMemoryStore(), NewMemoryStore(), nil, nil, nil)
	_, err := exp.Restore(context.Background(), "acme/blob.ndjson.zip")
	require.Error(t, err)
}

func TestLocalStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStore(t.TempDir())

	require.NoError(t, store.Put(ctx, "acme/a.ndjson.s2", strings.NewReader("payload")))
	require.NoError(t, store.Put(ctx, "acme/b.ndjson.s2", strings.NewReader("other")))

	names, err := store.List(ctx, "acme/")
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/a.ndjson.s2", "acme/b.ndjson.s2"}, names)

	rc, err := store.Open(ctx, "acme/a.ndjson.s2")
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, store.Delete(ctx, "acme/b.ndjson.s2"))
	require.NoError(t, store.Delete(ctx, "acme/b.ndjson.s2"))
	_, err = store.Open(ctx, "acme/b.ndjson.s2")
	require.ErrorIs(t, err, ErrNotFound)
}
