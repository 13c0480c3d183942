package services_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MegaGrindStone/chatbot-ui/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoltDBSelectedChat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := services.NewBoltDB(path)
	require.NoError(t, err)

	chatID, err := db.SelectedChat(context.Background())
	require.NoError(t, err)
	assert.Empty(t, chatID, "unset key reads as empty")

	require.NoError(t, db.SetSelectedChat(context.Background(), "3f2a"))
	require.NoError(t, db.SetSelectedChat(context.Background(), "9b1c"))

	chatID, err = db.SelectedChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9b1c", chatID)

	require.NoError(t, db.Close())

	reopened, err := services.NewBoltDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	chatID, err = reopened.SelectedChat(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "9b1c", chatID, "selection survives a restart")
}

func TestBoltDBExclusiveOwner(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	db, err := services.NewBoltDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = services.NewBoltDB(path)
	assert.Error(t, err)
}
