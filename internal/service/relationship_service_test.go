package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRelService(env *testEnv, purgeOnUnfollow bool) (RelationshipService, *FanReplicator) {
	replicator := NewFanReplicator(env.fanRepo, env.counter, 100)
	svc := NewRelationshipService(
		env.userRepo, env.followRepo, env.fanRepo, env.timelineRepo,
		replicator, env.counter, nil, purgeOnUnfollow,
	)
	return svc, replicator
}

func TestFollowValidation(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, _ := newRelService(env, false)
	ctx := context.Background()

	a := env.seedUser(t, "alice")
	b := env.seedUser(t, "bob")

	assert.ErrorIs(t, svc.Follow(ctx, a, a), ErrFollowSelf)
	assert.ErrorIs(t, svc.Follow(ctx, a, "ghost"), ErrUserNotFound)

	require.NoError(t, svc.Follow(ctx, a, b))
	assert.ErrorIs(t, svc.Follow(ctx, a, b), ErrAlreadyFollowing)
}

func TestFollowReplicatesToFans(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, replicator := newRelService(env, false)
	ctx := context.Background()

	a := env.seedUser(t, "alice")
	b := env.seedUser(t, "bob")

	require.NoError(t, svc.Follow(ctx, a, b))
	replicator.Drain(ctx)

	fans, _, err := svc.ListFansAfter(ctx, b, "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{a}, fans)

	following, err := svc.ListFollowing(ctx, a, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{b}, following)
}

func TestUnfollow(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, replicator := newRelService(env, false)
	ctx := context.Background()

	a := env.seedUser(t, "alice")
	b := env.seedUser(t, "bob")

	assert.ErrorIs(t, svc.Unfollow(ctx, a, b), ErrNotFollowing)

	require.NoError(t, svc.Follow(ctx, a, b))
	replicator.Drain(ctx)
	require.NoError(t, svc.Unfollow(ctx, a, b))
	replicator.Drain(ctx)

	fans, _, err := svc.ListFansAfter(ctx, b, "", 10)
	require.NoError(t, err)
	assert.Empty(t, fans)
}

func TestUnfollowKeepsHistoryByDefault(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, replicator := newRelService(env, false)
	ctx := context.Background()

	viewer := env.seedUser(t, "viewer")
	author := env.seedUser(t, "author")
	require.NoError(t, svc.Follow(ctx, viewer, author))
	replicator.Drain(ctx)

	postID, err := env.publisher.Publish(ctx, author, "history")
	require.NoError(t, err)
	env.drainFanout(t)
	require.EqualValues(t, 2, env.countEntries(t, postID))

	require.NoError(t, svc.Unfollow(ctx, viewer, author))
	// 默认策略：历史条目保留
	assert.EqualValues(t, 2, env.countEntries(t, postID))
}

func TestUnfollowPurgesHistoryWhenConfigured(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, replicator := newRelService(env, true)
	ctx := context.Background()

	viewer := env.seedUser(t, "viewer")
	author := env.seedUser(t, "author")
	require.NoError(t, svc.Follow(ctx, viewer, author))
	replicator.Drain(ctx)

	postID, err := env.publisher.Publish(ctx, author, "purged")
	require.NoError(t, err)
	env.drainFanout(t)
	require.EqualValues(t, 2, env.countEntries(t, postID))

	require.NoError(t, svc.Unfollow(ctx, viewer, author))
	// 开启清理：viewer 的条目删除，作者自己的保留
	assert.EqualValues(t, 1, env.countEntries(t, postID))
}

func TestListFansAfterCursor(t *testing.T) {
	env := newTestEnv(t, 10000)
	svc, _ := newRelService(env, false)
	ctx := context.Background()

	author := env.seedUser(t, "author")
	env.seedFollowers(t, author, 25)

	var got []string
	cursor := ""
	for {
		page, next, err := svc.ListFansAfter(ctx, author, cursor, 10)
		require.NoError(t, err)
		got = append(got, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	require.Len(t, got, 25)
	// fan_id 升序稳定，可重启续传
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1], got[i])
	}
}
