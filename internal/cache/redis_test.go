package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFamily(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		cmd  redis.Cmder
		want string
	}{
		{redis.NewStringCmd(ctx, "get", UserKey(7)), "user"},
		{redis.NewIntCmd(ctx, "exists", BlacklistKey("jti-1")), "blacklist"},
		{redis.NewIntCmd(ctx, "incr", "rl:key-activate:user:7"), "rl"},
		{redis.NewIntCmd(ctx, "publish", "audit", "{}"), "events"},
		{redis.NewStringCmd(ctx, "get", "session"), "other"},
		{redis.NewStatusCmd(ctx, "flushall"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, keyFamily(tt.cmd), tt.cmd.String())
	}
}

func TestInitRedis(t *testing.T) {
	t.Cleanup(func() { SetClient(nil) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	InitRedis(mr.Addr())
	require.NotNil(t, GetClient())
	assert.Equal(t, "zalupaspb-api", GetClient().Options().ClientName)
	_ = GetClient().Close()

	InitRedis("redis://" + mr.Addr() + "/0")
	require.NotNil(t, GetClient())
	_ = GetClient().Close()

	InitRedis("redis://%zz")
	assert.Nil(t, GetClient())

	mr.Close()
	InitRedis(mr.Addr())
	assert.Nil(t, GetClient())
}
