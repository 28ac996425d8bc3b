// Dlist speaks a subset of the Redis protocol so that any Redis client can work on its named lists.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/nobletooth/dlist/pkg/keyspace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var address = flag.String("address", ":6380", "The ip:port to listen on for Redis protocol.")

var (
	errNotInteger = errors.New("value is not an integer or out of range")

	commandsMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dlist_redis_commands_total",
		Help: "The total number of Redis commands handled",
	}, []string{"command", "status"})
)

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string // Upper cased.
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeArray      []string // Writes an array of bulk strings if non-nil.
	writeStatus     string   // Writes a simple string if set.
	writeBulk       *string  // Writes a bulk string if set.
	unknownCommand  bool     // The command isn't served by dlist.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeStatus: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisStatus(s string) redisOutput {
	return redisOutput{writeStatus: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

// writeRedisOptional writes `s` if `found`, nil otherwise.
func writeRedisOptional(s string, found bool) redisOutput {
	if !found {
		return writeRedisNil()
	}
	return writeRedisBulk(s)
}

func writeRedisArray(values []string) redisOutput {
	if values == nil {
		values = []string{}
	}
	return redisOutput{writeArray: values}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArity(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// writeTo sends the output over `conn`.
func (o redisOutput) writeTo(conn redcon.Conn) {
	switch {
	case o.err != nil:
		conn.WriteError(*o.err)
	case o.writeNil:
		conn.WriteNull()
	case o.writeInt != nil:
		conn.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		conn.WriteBulkString(*o.writeBulk)
	case o.writeArray != nil:
		conn.WriteArray(len(o.writeArray))
		for _, value := range o.writeArray {
			conn.WriteBulkString(value)
		}
	default:
		conn.WriteString(o.writeStatus)
	}
}

type redisHandler struct {
	store *keyspace.Store
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store *keyspace.Store) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil store")
	}
	return &redisHandler{store: store}, nil
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	switch cmd.command {
	case "PING":
		switch len(cmd.args) {
		case 0:
			return writeRedisStatus("PONG")
		case 1:
			return writeRedisBulk(cmd.args[0])
		default:
			return wrongArity(cmd.command)
		}
	case "ECHO":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisBulk(cmd.args[0])
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "LPUSH", "RPUSH":
		if len(cmd.args) < 2 {
			return wrongArity(cmd.command)
		}
		key, values := cmd.args[0], cmd.args[1:]
		if cmd.command == "LPUSH" {
			return writeRedisInt(rh.store.PushFront(key, values...))
		}
		return writeRedisInt(rh.store.PushBack(key, values...))
	case "LPOP":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisOptional(rh.store.PopFront(cmd.args[0]))
	case "RPOP":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisOptional(rh.store.PopBack(cmd.args[0]))
	case "LINDEX":
		if len(cmd.args) != 2 {
			return wrongArity(cmd.command)
		}
		index, err := strconv.Atoi(cmd.args[1])
		if err != nil {
			return writeRedisError(errNotInteger)
		}
		return writeRedisOptional(rh.store.Index(cmd.args[0], index))
	case "LLEN":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisInt(rh.store.Len(cmd.args[0]))
	case "LRANGE":
		if len(cmd.args) != 3 {
			return wrongArity(cmd.command)
		}
		start, startErr := strconv.Atoi(cmd.args[1])
		stop, stopErr := strconv.Atoi(cmd.args[2])
		if startErr != nil || stopErr != nil {
			return writeRedisError(errNotInteger)
		}
		return writeRedisArray(rh.store.Range(cmd.args[0], start, stop))
	case "LDISPLAY":
		if len(cmd.args) != 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisOptional(rh.store.Display(cmd.args[0]))
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisInt(rh.store.Delete(cmd.args...))
	case "EXISTS":
		if len(cmd.args) < 1 {
			return wrongArity(cmd.command)
		}
		return writeRedisInt(rh.store.Exists(cmd.args...))
	case "KEYS":
		// Only the match-all pattern is supported; a bare KEYS means the same.
		if len(cmd.args) > 1 || (len(cmd.args) == 1 && cmd.args[0] != "*") {
			return writeRedisError(errors.New("only 'KEYS *' is supported"))
		}
		return writeRedisArray(rh.store.Names())
	default:
		output := writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
		output.unknownCommand = true
		return output
	}
}

// recordCommand counts `cmd` in the commands metric. Unknown commands share one label so clients can't grow the
// number of series.
func recordCommand(cmd redisCommand, output redisOutput) {
	command := cmd.command
	if output.unknownCommand {
		command = "UNKNOWN"
	}
	status := "ok"
	if output.err != nil {
		status = "error"
	}
	commandsMetric.WithLabelValues(command, status).Inc()
}

// toRedisCommand converts a redcon.Command to a redisCommand.
func toRedisCommand(cmd redcon.Command) redisCommand {
	command := redisCommand{command: strings.ToUpper(string(cmd.Args[0])), args: make([]string, len(cmd.Args)-1)}
	for i := 1; i < len(cmd.Args); i++ {
		command.args[i-1] = string(cmd.Args[i])
	}
	return command
}

// RunRedisServer starts a Redis protocol server over the named lists of `store`. It blocks until `ctx` is cancelled
// or the server fails.
func RunRedisServer(ctx context.Context, store *keyspace.Store) error {
	if *address == "" {
		return errors.New("expected a non-empty --address flag")
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *address,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			command := toRedisCommand(cmd)
			output := redisHandler.handle(command)
			recordCommand(command, output)

			output.writeTo(conn)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close connection.", "remote", conn.RemoteAddr(), "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Connection closed with an error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	listenSignal := make(chan error, 1)
	serverErrSignal := make(chan error, 1)
	go func() {
		if err := redisServer.ListenServeAndSignal(listenSignal); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()
	// Close only works on a bound listener, so wait for it before watching `ctx`.
	if err := <-listenSignal; err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *address, err)
	}
	slog.Info("Serving Redis protocol.", "address", *address)

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close dlist server: %w", err)
		}
	case err, ok := <-serverErrSignal:
		if !ok {
			return errors.New("redis server stopped unexpectedly")
		}
		return fmt.Errorf("redis server stopped unexpectedly: %w", err)
	}

	return nil // Exited with no errors.
}
