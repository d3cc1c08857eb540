package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/switchboard/internal/routing"
	"github.com/mattjoyce/switchboard/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db)
}

func seedAccount(t *testing.T, s *Store, key string, enabled bool) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), Account{Key: key, Number: "num-" + key, Enabled: enabled}))
}

func TestAccounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "b", true)
	seedAccount(t, s, "a", true)
	seedAccount(t, s, "c", false)

	accts, err := s.ListEnabledAccounts(ctx)
	require.NoError(t, err)
	require.Len(t, accts, 2)
	assert.Equal(t, "a", accts[0].Key)
	assert.Equal(t, "b", accts[1].Key)

	require.NoError(t, s.SetAccountEnabled(ctx, "c", true))
	got, err := s.GetAccount(ctx, "c")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	assert.Equal(t, "num-c", got.Number)

	_, err = s.GetAccount(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(s.SetAccountEnabled(ctx, "missing", false), ErrNotFound))
}

func TestConversations(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acc", true)

	require.NoError(t, s.PutConversation(ctx, Conversation{AccountKey: "acc", Key: "c2", Type: "bulk_message", Status: StatusRunning, BatchIDs: []string{"b1", "b2"}}))
	require.NoError(t, s.PutConversation(ctx, Conversation{AccountKey: "acc", Key: "c1", Type: "survey", Status: StatusRunning}))
	require.NoError(t, s.PutConversation(ctx, Conversation{AccountKey: "acc", Key: "c3", Type: "survey"}))

	running, err := s.ListRunningConversations(ctx, "acc")
	require.NoError(t, err)
	require.Len(t, running, 2)
	assert.Equal(t, "c1", running[0].Key)
	assert.Empty(t, running[0].BatchIDs)
	assert.Equal(t, []string{"b1", "b2"}, running[1].BatchIDs)

	draft, err := s.GetConversation(ctx, "acc", "c3")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, draft.Status)
	assert.False(t, draft.Running())

	draft.Status = StatusStopped
	require.NoError(t, s.PutConversation(ctx, *draft))
	got, err := s.GetConversation(ctx, "acc", "c3")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)

	_, err = s.GetConversation(ctx, "acc", "nope")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func pairedTable(t *testing.T) *routing.Table {
	t.Helper()
	tbl := routing.NewTable()
	require.NoError(t, tbl.Connect(
		routing.ConversationConnector("bulk_message", "c1"), routing.DefaultEndpoint,
		routing.ChannelConnector("sms", "*12345#"), routing.DefaultEndpoint,
	))
	return tbl
}

func TestRoutingTableRevisions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acc", true)

	empty, rev, err := s.GetRoutingTable(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)
	assert.Equal(t, 0, empty.Len())

	rev, err = s.SaveRoutingTable(ctx, "acc", pairedTable(t), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)

	loaded, rev, err := s.GetRoutingTable(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	target, ok := loaded.LookupTarget(routing.ChannelConnector("sms", "*12345#"), routing.DefaultEndpoint)
	require.True(t, ok)
	assert.Equal(t, routing.ConversationConnector("bulk_message", "c1"), target.Connector)

	_, err = s.SaveRoutingTable(ctx, "acc", pairedTable(t), 0)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	rev, err = s.SaveRoutingTable(ctx, "acc", loaded, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
}

func TestSaveRoutingTableRejectsUnpaired(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seedAccount(t, s, "acc", true)

	tbl := routing.NewTable()
	require.NoError(t, tbl.AddEntry(
		routing.ConversationConnector("bulk_message", "c1"), routing.DefaultEndpoint,
		routing.ChannelConnector("sms", "*12345#"), routing.DefaultEndpoint,
	))

	_, err := s.SaveRoutingTable(ctx, "acc", tbl, 0)
	var se *routing.StructuralError
	require.True(t, errors.As(err, &se))

	_, rev, err := s.GetRoutingTable(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rev)
}

func TestTags(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.AddTags(ctx, "ussd", "*1#", "*2#"))
	require.NoError(t, s.AddTags(ctx, "ussd", "*1#"))

	first, err := s.AcquireTag(ctx, "ussd", "acc")
	require.NoError(t, err)
	assert.Equal(t, "*1#", first)
	second, err := s.AcquireTag(ctx, "ussd", "acc")
	require.NoError(t, err)
	assert.Equal(t, "*2#", second)

	_, err = s.AcquireTag(ctx, "ussd", "acc")
	assert.True(t, errors.Is(err, ErrNoFreeTags))

	require.NoError(t, s.ReleaseTag(ctx, "ussd", first))
	assert.True(t, errors.Is(s.ReleaseTag(ctx, "ussd", first), ErrNotFound))

	again, err := s.AcquireTag(ctx, "ussd", "other")
	require.NoError(t, err)
	assert.Equal(t, "*1#", again)
}

func TestBatchCounts(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.RecordMessage(ctx, "b1", "m1", "inbound"))
	require.NoError(t, s.RecordMessage(ctx, "b1", "m2", "outbound"))
	require.NoError(t, s.RecordMessage(ctx, "b1", "m2", "outbound"))

	n, err := s.Count(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	cached, err := s.CachedCount(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached)
	out, err := s.CountByDirection(ctx, "b1", "outbound")
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)

	require.NoError(t, s.SetCachedCount(ctx, "b1", 40))
	n, err = s.Recompute(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	cached, err = s.CachedCount(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), cached)

	cached, err = s.CachedCount(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cached)
}
