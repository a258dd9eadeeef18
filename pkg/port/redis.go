package port

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nobletooth/sica/pkg/cache"
	"github.com/nobletooth/sica/pkg/scan"
	"github.com/tidwall/redcon"
)

const RedisOk = "OK"

var redisAddress = flag.String("redis_address", "",
	"The ip:port to listen on for the Redis protocol. If empty, the Redis port is disabled.")

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisSession is the per-connection state; its scope is changed by the SCOPE command.
type redisSession struct {
	scope cache.Scope
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeArray      []string // Writes an array of bulk strings if not nil.
	writeBulk       *string  // Writes a bulk string if set.
	writeString     string   // Writes a simple string value otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(items []string) redisOutput {
	if items == nil {
		items = []string{}
	}
	return redisOutput{writeArray: items}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgs(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// write sends the output on `conn`.
func (ro redisOutput) write(conn redcon.Conn) {
	switch {
	case ro.err != nil:
		conn.WriteError(*ro.err)
	case ro.writeNil:
		conn.WriteNull()
	case ro.writeInt != nil:
		conn.WriteInt(*ro.writeInt)
	case ro.writeArray != nil:
		conn.WriteArray(len(ro.writeArray))
		for _, item := range ro.writeArray {
			conn.WriteBulkString(item)
		}
	case ro.writeBulk != nil:
		conn.WriteBulkString(*ro.writeBulk)
	default:
		conn.WriteString(ro.writeString)
	}
}

type redisHandler struct {
	store *cache.Store
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(store *cache.Store) (*redisHandler, error) {
	if store == nil {
		return nil, errors.New("expected a non-nil cache store")
	}
	return &redisHandler{store: store}, nil
}

// redisPayload renders a cached payload as a bulk string; payloads that aren't strings are rendered as JSON.
func redisPayload(payload any) (string, error) {
	if text, isString := payload.(string); isString {
		return text, nil
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("payload of type %T can't be rendered: %w", payload, err)
	}
	return string(encoded), nil
}

// parseSet parses `SET key value [EX seconds|PX milliseconds] [TAG tag] [RAW]`.
func parseSet(args []string) (cache.AddRequest, error) {
	if len(args) < 2 {
		return cache.AddRequest{}, errors.New("wrong number of arguments for 'set' command")
	}
	req := cache.AddRequest{Key: args[0], Payload: args[1]}
	for i := 2; i < len(args); i++ {
		switch option := strings.ToUpper(args[i]); option {
		case "EX", "PX", "TAG":
			if i+1 >= len(args) {
				return cache.AddRequest{}, errors.New("syntax error")
			}
			i++
			if option == "TAG" {
				req.TypeTag = args[i]
				continue
			}
			amount, err := strconv.ParseInt(args[i], 10, 64)
			if err != nil || amount <= 0 {
				return cache.AddRequest{}, errors.New("invalid expire time in 'set' command")
			}
			unit := time.Second
			if option == "PX" {
				unit = time.Millisecond
			}
			req.TTL = time.Duration(amount) * unit
		case "RAW":
			req.Encode = new(bool)
		default:
			return cache.AddRequest{}, errors.New("syntax error")
		}
	}
	return req, nil
}

func (rh *redisHandler) expire(session *redisSession, cmd redisCommand, unit time.Duration) redisOutput {
	if len(cmd.args) != 2 {
		return wrongArgs(cmd.command)
	}
	amount, err := strconv.ParseInt(cmd.args[1], 10, 64)
	if err != nil {
		return writeRedisError(errors.New("value is not an integer or out of range"))
	}
	if amount <= 0 {
		return writeRedisError(fmt.Errorf("invalid expire time in '%s' command", strings.ToLower(cmd.command)))
	}
	found, err := rh.store.ResetTTL(session.scope, cmd.args[0], time.Duration(amount)*unit)
	if err != nil {
		return writeRedisError(err)
	}
	if !found {
		return writeRedisInt(0)
	}
	return writeRedisInt(1)
}

func (rh *redisHandler) handle(session *redisSession, cmd redisCommand) redisOutput {
	switch cmd.command {
	case "PING":
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SCOPE":
		switch len(cmd.args) {
		case 0:
			session.scope = cache.Global
		case 1:
			session.scope = cache.User(cmd.args[0])
		default:
			return wrongArgs(cmd.command)
		}
		return writeRedisString(RedisOk)
	case "SET":
		req, err := parseSet(cmd.args)
		if err != nil {
			return writeRedisError(err)
		}
		if err := rh.store.Add(session.scope, req); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "GET":
		if len(cmd.args) != 1 {
			return wrongArgs(cmd.command)
		}
		items, err := rh.store.Get(session.scope, cache.GetQuery{Key: cmd.args[0]})
		if err != nil {
			return writeRedisError(err)
		}
		if len(items) == 0 {
			return writeRedisNil()
		}
		value, err := redisPayload(items[0].Payload)
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisBulk(value)
	case "DEL":
		if len(cmd.args) < 1 {
			return wrongArgs(cmd.command)
		}
		deletedCount := 0
		for _, key := range cmd.args {
			if items, err := rh.store.Remove(session.scope, key); err == nil && len(items) > 0 {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "EXPIRE":
		return rh.expire(session, cmd, time.Second)
	case "PEXPIRE":
		return rh.expire(session, cmd, time.Millisecond)
	case "TAGGED": // Flat array of key, value pairs.
		if len(cmd.args) != 1 {
			return wrongArgs(cmd.command)
		}
		items, err := rh.store.Get(session.scope, cache.GetQuery{TypeTag: cmd.args[0]})
		if err != nil {
			return writeRedisError(err)
		}
		pairs := make([]string, 0, 2*len(items))
		for _, item := range items {
			value, err := redisPayload(item.Payload)
			if err != nil {
				return writeRedisError(err)
			}
			pairs = append(pairs, item.Key, value)
		}
		return writeRedisArray(pairs)
	case "KEYS":
		if len(cmd.args) != 1 {
			return wrongArgs(cmd.command)
		}
		keys, err := scan.MatchGlob(cmd.args[0], slices.Values(rh.store.Keys(session.scope)))
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisArray(slices.Collect(keys))
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// RunRedisServer starts a Redis protocol server over `store` if --redis_address is set.
func RunRedisServer(ctx context.Context, store *cache.Store) error {
	if *redisAddress == "" {
		slog.Info("Redis port is disabled.")
		return nil
	}

	redisHandler, err := newRedisHandler(store)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}

	redisServer := redcon.NewServerNetwork("tcp" /*net*/, *redisAddress,
		/*handler*/ func(conn redcon.Conn, cmd redcon.Command) {
			// Convert redcon.Command to redisCommand.
			command := redisCommand{command: strings.ToUpper(string(cmd.Args[0])), args: make([]string, len(cmd.Args)-1)}
			for i := 1; i < len(cmd.Args); i++ {
				command.args[i-1] = string(cmd.Args[i])
			}
			session, _ := conn.Context().(*redisSession)
			output := redisHandler.handle(session, command)
			output.write(conn)
			if output.closeConnection {
				if err := conn.Close(); err != nil {
					slog.Error("Failed to close redis connection.", "error", err)
				}
			}
		},
		/*accept*/ func(conn redcon.Conn) bool {
			conn.SetContext(&redisSession{scope: cache.Global})
			return true // Accept all connections.
		},
		/*close*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Debug("Redis connection closed with error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() {
		slog.Info("Listening on Redis port.", "address", *redisAddress)
		if err := redisServer.ListenAndServe(); err != nil {
			serverErrSignal <- err
		}
		close(serverErrSignal)
	}()

	select {
	case <-ctx.Done():
		if err := redisServer.Close(); err != nil {
			return fmt.Errorf("failed to close redis port: %w", err)
		}
		slog.Info("Redis port stopped.")
	case err, ok := <-serverErrSignal:
		if ok {
			return fmt.Errorf("redis server stopped unexpectedly: %w", err)
		}
	}

	return nil // Exited with no errors.
}
