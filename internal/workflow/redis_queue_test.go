package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeList emulates the list commands on an in-memory slice.
type fakeList struct {
	items   map[string][]string
	popErrs []error
}

func newFakeList() *fakeList {
	return &fakeList{items: map[string][]string{}}
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...any) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	for _, v := range values {
		var s string
		switch t := v.(type) {
		case []byte:
			s = string(t)
		case string:
			s = t
		}
		f.items[key] = append([]string{s}, f.items[key]...)
	}
	cmd.SetVal(int64(len(f.items[key])))
	return cmd
}

func (f *fakeList) BRPop(ctx context.Context, _ time.Duration, keys ...string) *redis.StringSliceCmd {
	cmd := redis.NewStringSliceCmd(ctx)
	if len(f.popErrs) > 0 {
		err := f.popErrs[0]
		f.popErrs = f.popErrs[1:]
		cmd.SetErr(err)
		return cmd
	}
	key := keys[0]
	list := f.items[key]
	if len(list) == 0 {
		cmd.SetErr(redis.Nil)
		return cmd
	}
	last := list[len(list)-1]
	f.items[key] = list[:len(list)-1]
	cmd.SetVal([]string{key, last})
	return cmd
}

func (f *fakeList) LLen(ctx context.Context, key string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	cmd.SetVal(int64(len(f.items[key])))
	return cmd
}

func TestRedisQueue_RoundTrip(t *testing.T) {
	list := newFakeList()
	q := newRedisQueue(list, "tasks")
	ctx := context.Background()

	first := NewTask("import", TriggerPayload{UserUUID: uuid.New(), UploadUUID: uuid.New()})
	second := NewTask("import", TriggerPayload{UserUUID: uuid.New(), UploadUUID: uuid.New()})
	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var stored Task
	require.NoError(t, json.Unmarshal([]byte(list.items["tasks"][1]), &stored))
	assert.Equal(t, first.Payload, stored.Payload)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Payload, got.Payload)
	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.Payload, got.Payload)
}

func TestRedisQueue_DequeueRetriesOnTimeout(t *testing.T) {
	list := newFakeList()
	list.popErrs = []error{redis.Nil, redis.Nil}
	q := newRedisQueue(list, "tasks")
	task := NewTask("import", TriggerPayload{UploadUUID: uuid.New()})
	require.NoError(t, q.Enqueue(context.Background(), task))

	got, err := q.Dequeue(context.Background())

	require.NoError(t, err)
	assert.Equal(t, task.Payload, got.Payload)
}

func TestRedisQueue_DequeueSurfacesErrors(t *testing.T) {
	list := newFakeList()
	boom := errors.New("connection reset")
	list.popErrs = []error{boom}
	q := newRedisQueue(list, "tasks")

	_, err := q.Dequeue(context.Background())
	assert.ErrorIs(t, err, boom)

	list.items["tasks"] = []string{"not json"}
	_, err = q.Dequeue(context.Background())
	assert.Error(t, err)
}

func TestRedisQueue_DequeueCancelled(t *testing.T) {
	q := newRedisQueue(newFakeList(), "tasks")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
