package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boletobot/pkg/logx"
)

func openTestStore(t *testing.T, driver string) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName(driver))
	st, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NotNil(t, st)
	return st, path
}

func TestOpenDisabled(t *testing.T) {
	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}

func TestChatDirectory(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st, path := openTestStore(t, driver)

			require.NoError(t, st.UpsertChat(ctx, Chat{ID: -2, Title: "Beta", Type: "group"}))
			require.NoError(t, st.UpsertChat(ctx, Chat{ID: -1, Title: "Alpha", Type: "group"}))
			require.NoError(t, st.UpsertChat(ctx, Chat{ID: -1, Title: "Alpha Renamed", Type: "group"}))
			require.NoError(t, st.MigrateChat(ctx, -2, -1002))
			require.NoError(t, st.UpsertChat(ctx, Chat{ID: -3, Title: "Gone", Type: "group"}))
			require.NoError(t, st.RemoveChat(ctx, -3))

			chats, err := st.ListChats(ctx)
			require.NoError(t, err)
			require.Len(t, chats, 2)
			assert.Equal(t, "Alpha Renamed", chats[0].Title)
			assert.Equal(t, int64(-1002), chats[1].ID)
			assert.Equal(t, "supergroup", chats[1].Type)
			require.NoError(t, st.Close())

			reopened, err := Open(Config{Driver: driver, Path: path}, logx.Nop())
			require.NoError(t, err)
			defer reopened.Close()
			again, err := reopened.ListChats(ctx)
			require.NoError(t, err)
			assert.Len(t, again, 2)
		})
	}
}

func TestFileStoreCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chats.snapshot.json"), []byte("{not json"), 0o600))

	_, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "chats.json")}, logx.Nop())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestSQLiteCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chats.db")
	require.NoError(t, os.WriteFile(path, []byte(strings.Repeat("not a database ", 128)), 0o600))

	_, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStoreSkipsTornJournalLine(t *testing.T) {
	dir := t.TempDir()
	journal := `{"op":"upsert","chat":{"id":-5,"title":"Kept","type":"group"}}` + "\n" + `{"op":"ups`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "chats.journal.jsonl"), []byte(journal), 0o600))

	st, err := Open(Config{Driver: "file", Path: filepath.Join(dir, "chats.json")}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	chats, err := st.ListChats(context.Background())
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "Kept", chats[0].Title)
}
