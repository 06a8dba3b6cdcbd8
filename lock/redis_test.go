package lock

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/co2-ledger/ledger"
)

// redisAddr returns a live Redis for integration tests, or skips.
func redisAddr(t *testing.T) string {
	addr := os.Getenv("CO2_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CO2_TEST_REDIS_ADDR not set")
	}
	return addr
}

func TestRedisLocker_Unreachable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer rdb.Close()
	l := NewRedisLocker(rdb, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	unlock, err := l.Lock(ctx, "tank:main")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ledger.ErrLockNotObtained, "transport errors are not contention")
	assert.Nil(t, unlock)
}

func TestRedisLocker_SerializesHolders(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(t)})
	defer rdb.Close()
	l := NewRedisLocker(rdb, 5*time.Second, nil)
	ctx := context.Background()

	var (
		mu      sync.Mutex
		holders int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, "tank:test-serialize")
			require.NoError(t, err)
			mu.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			mu.Unlock()
			time.Sleep(10 * time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
}

func TestRedisLocker_GivesUpWhenContextEnds(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr(t)})
	defer rdb.Close()
	l := NewRedisLocker(rdb, 5*time.Second, nil)

	unlock, err := l.Lock(context.Background(), "tank:test-timeout")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "tank:test-timeout")

	require.ErrorIs(t, err, ledger.ErrLockNotObtained)
}
