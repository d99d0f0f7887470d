package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ghtak/stardust/internal/errorx"
)

func TestStaticDirectoryLookup(t *testing.T) {
	dir := NewStaticDirectory(&Principal{ID: 1, Username: "alice", Email: "alice@example.com"})
	ctx := context.Background()

	p, err := dir.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Username)

	_, err = dir.Lookup(ctx, 2)
	assert.True(t, errors.Is(err, errorx.ErrNotFound))

	dir.Add(&Principal{ID: 2, Username: "bob"})
	p, err = dir.Lookup(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "bob", p.Username)
}

func TestStaticDirectoryLookupCopies(t *testing.T) {
	dir := NewStaticDirectory(&Principal{ID: 1, Username: "alice"})

	p, err := dir.Lookup(context.Background(), 1)
	require.NoError(t, err)
	p.Username = "mallory"

	again, err := dir.Lookup(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "alice", again.Username)
}
