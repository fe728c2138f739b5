package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	redisv8 "github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-rank-collector/internal/ranking"
)

type fakeClient struct {
	mu      sync.Mutex
	data    map[string]string
	ttls    map[string]time.Duration
	getErr  error
	setErr  error
	pingErr error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeClient) Get(_ context.Context, key string) *redisv8.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return redisv8.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redisv8.NewStringResult("", redisv8.Nil)
	}
	return redisv8.NewStringResult(v, nil)
}

func (f *fakeClient) Set(_ context.Context, key string, value interface{}, exp time.Duration) *redisv8.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return redisv8.NewStatusResult("", f.setErr)
	}
	b, _ := value.([]byte)
	f.data[key] = string(b)
	f.ttls[key] = exp
	return redisv8.NewStatusResult("OK", nil)
}

func (f *fakeClient) Ping(context.Context) *redisv8.StatusCmd {
	return redisv8.NewStatusResult("PONG", f.pingErr)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	c := NewWithClient(fc, Options{Prefix: "rc:", TTL: time.Minute})

	resp := ranking.Response{
		Success:  true,
		Keywords: []ranking.KeywordRank{{Keyword: "a", Rank: 1}},
		Errors:   []string{},
		Message:  "1/1 succeeded",
	}
	require.NoError(t, c.Set(context.Background(), "k1", resp))
	require.Equal(t, time.Minute, fc.ttls["rc:k1"])

	got, ok, err := c.Get(context.Background(), "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, resp, got)
}

func TestCacheMissIsNotError(t *testing.T) {
	t.Parallel()
	c := NewWithClient(newFakeClient(), Options{})
	_, ok, err := c.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, defaultTTL, c.ttl)
}

func TestCacheErrors(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	fc.getErr = errors.New("conn reset")
	fc.setErr = errors.New("readonly")
	c := NewWithClient(fc, Options{})

	_, ok, err := c.Get(context.Background(), "k")
	require.ErrorContains(t, err, "conn reset")
	require.False(t, ok)
	require.ErrorContains(t, c.Set(context.Background(), "k", ranking.Response{}), "readonly")
}

func TestCacheCorruptEntry(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	fc.data["k"] = "not json"
	c := NewWithClient(fc, Options{})
	_, ok, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	require.False(t, ok)
}

func TestCachePingAndClose(t *testing.T) {
	t.Parallel()
	fc := newFakeClient()
	c := NewWithClient(fc, Options{})
	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Close())
	require.True(t, fc.closed)
}

func TestNewRequiresAddr(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background(), Options{})
	require.Error(t, err)
}
