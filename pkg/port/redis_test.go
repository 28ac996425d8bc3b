package port

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/nobletooth/dlist/pkg/keyspace"
	"github.com/nobletooth/dlist/pkg/utils"
	promclient "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T) *redisHandler {
	t.Helper()
	handler, err := newRedisHandler(keyspace.NewStore(4, 100))
	require.NoError(t, err)
	return handler
}

func TestNewRedisHandler(t *testing.T) {
	_, err := newRedisHandler(nil)
	assert.Error(t, err)
}

func TestRedisHandler_Handle(t *testing.T) {
	handler := newTestHandler(t)
	run := func(command string, args ...string) redisOutput {
		return handler.handle(redisCommand{command: command, args: args})
	}

	t.Run("ping", func(t *testing.T) {
		assert.Equal(t, "PONG", run("PING").writeStatus)
		assert.Equal(t, "hello", *run("PING", "hello").writeBulk)
		assert.Equal(t, "hi", *run("ECHO", "hi").writeBulk)
	})

	t.Run("push and read", func(t *testing.T) {
		assert.Equal(t, 2, *run("RPUSH", "nums", "3", "4").writeInt)
		assert.Equal(t, 4, *run("LPUSH", "nums", "2", "1").writeInt)
		assert.Equal(t, 4, *run("LLEN", "nums").writeInt)
		assert.Equal(t, "1 <-> 2 <-> 3 <-> 4", *run("LDISPLAY", "nums").writeBulk)
		assert.Equal(t, "3", *run("LINDEX", "nums", "2").writeBulk)
		assert.Equal(t, "4", *run("LINDEX", "nums", "-1").writeBulk)
		assert.True(t, run("LINDEX", "nums", "9").writeNil)
		assert.Equal(t, []string{"2", "3"}, run("LRANGE", "nums", "1", "2").writeArray)
	})

	t.Run("pop", func(t *testing.T) {
		run("RPUSH", "pop", "a", "b")
		assert.Equal(t, "a", *run("LPOP", "pop").writeBulk)
		assert.Equal(t, "b", *run("RPOP", "pop").writeBulk)
		assert.True(t, run("RPOP", "pop").writeNil)
		assert.True(t, run("LPOP", "pop").writeNil)
		assert.Equal(t, 0, *run("EXISTS", "pop").writeInt)
	})

	t.Run("keys and delete", func(t *testing.T) {
		run("RPUSH", "k1", "v")
		assert.Contains(t, run("KEYS", "*").writeArray, "k1")
		assert.Equal(t, run("KEYS", "*").writeArray, run("KEYS").writeArray)
		assert.Equal(t, 1, *run("DEL", "k1", "nope").writeInt)
		assert.NotNil(t, run("KEYS", "k*").err)
		assert.NotNil(t, run("KEYS", "*", "*").err)
	})

	t.Run("missing list", func(t *testing.T) {
		assert.True(t, run("LDISPLAY", "nothing").writeNil)
		assert.Equal(t, 0, *run("LLEN", "nothing").writeInt)
		assert.Equal(t, []string{}, run("LRANGE", "nothing", "0", "-1").writeArray)
	})

	t.Run("errors", func(t *testing.T) {
		assert.Equal(t, "ERR wrong number of arguments for 'lpush' command", *run("LPUSH", "only_key").err)
		assert.Equal(t, "ERR wrong number of arguments for 'lpop' command", *run("LPOP").err)
		assert.Equal(t, "ERR value is not an integer or out of range", *run("LINDEX", "nums", "x").err)
		assert.Equal(t, "ERR value is not an integer or out of range", *run("LRANGE", "nums", "0", "y").err)
		assert.Equal(t, "ERR unknown command 'FLY'", *run("FLY").err)
	})

	t.Run("quit", func(t *testing.T) {
		output := run("QUIT")
		assert.True(t, output.closeConnection)
		assert.Equal(t, RedisOk, output.writeStatus)
	})
}

// freeAddress returns a local address nothing listens on.
func freeAddress(t *testing.T) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())
	return addr
}

func TestRunRedisServer(t *testing.T) {
	addr := freeAddress(t)
	utils.SetTestFlag(t, "address", addr)

	ctx, cancel := context.WithCancel(t.Context())
	serverErr := make(chan error, 1)
	go func() { serverErr <- RunRedisServer(ctx, keyspace.NewStore(2, 100)) }()

	var conn redis.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, err = redis.Dial("tcp", addr)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer func() { _ = conn.Close() }()

	pong, err := redis.String(conn.Do("PING"))
	require.NoError(t, err)
	assert.Equal(t, "PONG", pong)

	length, err := redis.Int(conn.Do("lpush", "demo", "2", "1"))
	require.NoError(t, err)
	assert.Equal(t, 2, length)
	length, err = redis.Int(conn.Do("RPUSH", "demo", "3", "4"))
	require.NoError(t, err)
	assert.Equal(t, 4, length)

	display, err := redis.String(conn.Do("LDISPLAY", "demo"))
	require.NoError(t, err)
	assert.Equal(t, "1 <-> 2 <-> 3 <-> 4", display)

	values, err := redis.Strings(conn.Do("LRANGE", "demo", 0, -1))
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3", "4"}, values)

	popped, err := redis.String(conn.Do("LPOP", "demo"))
	require.NoError(t, err)
	assert.Equal(t, "1", popped)

	_, err = redis.String(conn.Do("LINDEX", "demo", 10))
	assert.ErrorIs(t, err, redis.ErrNil)

	_, err = conn.Do("NOPE")
	assert.Error(t, err)

	cancel()
	select {
	case err := <-serverErr:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Server didn't stop after cancellation.")
	}
}

func TestRunRedisServer_EmptyAddress(t *testing.T) {
	utils.SetTestFlag(t, "address", "")
	assert.Error(t, RunRedisServer(t.Context(), keyspace.NewStore(1, 10)))
}

// commandCount reads the commands counter for `command` and `status`.
func commandCount(t *testing.T, command, status string) int {
	t.Helper()
	metric := &promclient.Metric{}
	require.NoError(t, commandsMetric.WithLabelValues(command, status).Write(metric))
	return int(metric.Counter.GetValue())
}

func TestRecordCommand(t *testing.T) {
	handler := newTestHandler(t)
	record := func(command string, args ...string) {
		cmd := redisCommand{command: command, args: args}
		recordCommand(cmd, handler.handle(cmd))
	}

	t.Run("unknown commands share one series", func(t *testing.T) {
		before := commandCount(t, "UNKNOWN", "error")
		record("JUNK1")
		record("JUNK2", "arg")
		assert.Equal(t, before+2, commandCount(t, "UNKNOWN", "error"))
		assert.Equal(t, 0, commandCount(t, "JUNK1", "error"))
	})

	t.Run("known commands keep their name", func(t *testing.T) {
		okBefore := commandCount(t, "LLEN", "ok")
		errBefore := commandCount(t, "LLEN", "error")
		record("LLEN", "some_list")
		record("LLEN")
		assert.Equal(t, okBefore+1, commandCount(t, "LLEN", "ok"))
		assert.Equal(t, errBefore+1, commandCount(t, "LLEN", "error"))
	})
}

func TestRunRedisServer_CancelledBeforeListening(t *testing.T) {
	addr := freeAddress(t)
	utils.SetTestFlag(t, "address", addr)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	require.NoError(t, RunRedisServer(ctx, keyspace.NewStore(1, 10)))

	// The listener is released once the server returns.
	assert.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return true
		}
		_ = conn.Close()
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunRedisServer_AddressInUse(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = listener.Close() }()
	utils.SetTestFlag(t, "address", listener.Addr().String())

	assert.Error(t, RunRedisServer(t.Context(), keyspace.NewStore(1, 10)))
}
