package mapuche

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xiaoyuz/mapuche-embedded/pkg/resp"
)

func newTestDB(t *testing.T) (*DB, *Conn) {
	t.Helper()
	return newTestDBWithOptions(t, NewOpenOptions().WithInMemory(true))
}

func newTestDBWithOptions(t *testing.T, opts OpenOptions) (*DB, *Conn) {
	t.Helper()
	db, err := opts.WithInMemory(true).Open("")
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })
	return db, db.Conn()
}

func frInt(t *testing.T, fr *resp.Frame) int64 {
	t.Helper()
	require.Equal(t, resp.KindInteger, fr.Kind, "want integer, got %s", fr)
	return fr.Int
}

func frBulk(t *testing.T, fr *resp.Frame) string {
	t.Helper()
	require.Equal(t, resp.KindBulk, fr.Kind, "want bulk, got %s", fr)
	return string(fr.Data)
}

func frArray(t *testing.T, fr *resp.Frame) []*resp.Frame {
	t.Helper()
	require.Equal(t, resp.KindArray, fr.Kind, "want array, got %s", fr)
	return fr.Items
}

func frStrings(t *testing.T, fr *resp.Frame) []string {
	t.Helper()
	items := frArray(t, fr)
	out := make([]string, len(items))
	for i, it := range items {
		require.Equal(t, resp.KindBulk, it.Kind, "item %d: want bulk, got %s", i, it)
		out[i] = string(it.Data)
	}
	return out
}

func requireOK(t *testing.T, fr *resp.Frame) {
	t.Helper()
	require.Equal(t, resp.KindSimple, fr.Kind, "want +OK, got %s", fr)
	require.Equal(t, "OK", fr.Str)
}

func requireNull(t *testing.T, fr *resp.Frame) {
	t.Helper()
	require.Equal(t, resp.KindNull, fr.Kind, "want null, got %s", fr)
}

func requireErrContains(t *testing.T, fr *resp.Frame, substr string) {
	t.Helper()
	require.Equal(t, resp.KindError, fr.Kind, "want error, got %s", fr)
	require.Contains(t, fr.Str, substr)
}

func ctxb() context.Context { return context.Background() }
