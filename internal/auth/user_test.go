package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storage-kit-hub/internal/domain/entities"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret!")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret!", hash)
	assert.True(t, CheckPassword(hash, "s3cret!"))
	assert.False(t, CheckPassword(hash, "wrong"))

	_, err = HashPassword("")
	assert.Error(t, err)
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, FromContext(ctx))
	assert.Equal(t, SystemActor, ActorFrom(ctx))

	p := FromAPIKey(&entities.APIKey{ID: "ak_1", Role: "user", Scopes: []string{"read"}})
	ctx = WithPrincipal(ctx, p)
	assert.Same(t, p, FromContext(ctx))
	assert.Equal(t, "key:ak_1", ActorFrom(ctx))

	p.OwnerID = "u-1"
	assert.Equal(t, "u-1", p.Actor())
	p.Username = "alice"
	assert.Equal(t, "alice", p.Actor())
}
