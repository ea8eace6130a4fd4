package binmc

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/binmc/binmc/binproto"
)

func TestGetMulti(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	server.put("a", []byte("1"), 10)
	server.put("b", []byte("2"), 20)
	server.put("c", []byte("3"), 30)

	items, err := conn.GetMulti(ctx, []string{"a", "missing", "c"})
	require.NoError(t, err)

	require.Len(t, items, 2, "misses are absent, not errors")
	assert.Equal(t, []byte("1"), items["a"].Value)
	assert.Equal(t, uint32(10), items["a"].Flags)
	assert.Equal(t, []byte("3"), items["c"].Value)
	assert.NotContains(t, items, "missing")
}

func TestGetMultiEmpty(t *testing.T) {
	ctx := testContext(t)
	conn := dialTestConn(t, newFakeServer().listen(t))

	items, err := conn.GetMulti(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestGetMultiAllMiss(t *testing.T) {
	ctx := testContext(t)
	conn := dialTestConn(t, newFakeServer().listen(t))

	items, err := conn.GetMulti(ctx, []string{"x", "y"})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.False(t, conn.IsClosed())
}

func TestSetMulti(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	entries := make([]Entry, 0, 10)
	for i := 0; i < 10; i++ {
		entries = append(entries, Entry{
			Key:   fmt.Sprintf("key-%d", i),
			Value: []byte(fmt.Sprintf("value-%d", i)),
			Flags: uint32(i),
		})
	}
	require.NoError(t, conn.SetMulti(ctx, entries))

	for i := 0; i < 10; i++ {
		item, err := conn.Get(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("value-%d", i)), item.Value)
		assert.Equal(t, uint32(i), item.Flags)
	}
}

func TestDeleteMultiToleratesMisses(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	server.put("a", []byte("1"), 0)
	server.put("b", []byte("2"), 0)

	require.NoError(t, conn.DeleteMulti(ctx, []string{"a", "ghost", "b"}))

	_, err := conn.Get(ctx, "a")
	requireStatus(t, err, binproto.StatusKeyNotFound)
	_, err = conn.Get(ctx, "b")
	requireStatus(t, err, binproto.StatusKeyNotFound)
}

func TestIncrementMulti(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	server.put("hits", []byte("10"), 0)

	values, err := conn.IncrementMulti(ctx, []Counter{
		{Key: "hits", Delta: 5},
		{Key: "fresh", Delta: 1, Initial: 42},
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(15), values["hits"])
	assert.Equal(t, uint64(42), values["fresh"])
}

func TestIncrementMultiPartialFailure(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	server.put("ok", []byte("1"), 0)
	server.put("text", []byte("not a number"), 0)

	values, err := conn.IncrementMulti(ctx, []Counter{
		{Key: "ok", Delta: 1},
		{Key: "text", Delta: 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "text")
	assert.Equal(t, uint64(2), values["ok"], "successful keys are still returned")
	assert.False(t, conn.IsClosed())
}

func TestMultiOpsAfterNoReplyErrors(t *testing.T) {
	ctx := testContext(t)
	server := newFakeServer()
	conn := dialTestConn(t, server.listen(t))

	// Queue up stray error responses from quiet operations, then run a
	// batch: the batch must skip the strays and complete.
	require.NoError(t, conn.ReplaceNoReply(ctx, "nope1", []byte("v"), 0, 0))
	require.NoError(t, conn.ReplaceNoReply(ctx, "nope2", []byte("v"), 0, 0))

	server.put("a", []byte("1"), 0)
	items, err := conn.GetMulti(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), items["a"].Value)
}
