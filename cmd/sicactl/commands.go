package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nobletooth/sica/pkg/client"
	"github.com/nobletooth/sica/pkg/wire"
	"github.com/spf13/cobra"
)

// errFailed is returned when the server answered with success set to false.
var errFailed = errors.New("request was not successful")

type globalOptions struct {
	socketFile string
	address    string
	httpURL    string
	userID     string
	compress   bool
	timeout    time.Duration
	bufferSize int
}

// newClient picks the transport: --http wins over --socket, which wins over --address.
func (o *globalOptions) newClient() *client.Client {
	if o.httpURL != "" {
		return client.New(client.NewHTTP(o.httpURL, nil))
	}
	opts := wire.FrameOptions{BufferSize: o.bufferSize, MaxFrameBytes: 64 << 20, Timeout: o.timeout}
	if o.socketFile != "" {
		return client.New(client.NewSocket("unix", o.socketFile, opts, o.compress))
	}
	return client.New(client.NewSocket("tcp", o.address, opts, o.compress))
}

func (o *globalOptions) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	if o.timeout <= 0 {
		return context.WithCancel(cmd.Context())
	}
	return context.WithTimeout(cmd.Context(), o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	rootCmd := &cobra.Command{
		Use:           "sicactl",
		Short:         "sicactl - client for the sica cache server",
		Long:          "Issues one-shot cache operations against a sica server and prints the JSON response.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.socketFile, "socket", "", "Unix socket path of the server")
	flags.StringVar(&opts.address, "address", "127.0.0.1:8081", "ip:port of the server socket transport")
	flags.StringVar(&opts.httpURL, "http", "", "Base URL of the HTTP surface, e.g. http://localhost:4444")
	flags.StringVar(&opts.userID, "user", "", "User scope; empty means the global scope")
	flags.BoolVar(&opts.compress, "compress", false, "Compress socket requests and responses")
	flags.DurationVar(&opts.timeout, "timeout", 10*time.Second, "Deadline of the whole call; 0 disables it")
	flags.IntVar(&opts.bufferSize, "buffer_size", 4096, "Socket read / write chunk size")

	rootCmd.AddCommand(addCmd(opts), getCmd(opts), removeCmd(opts), resetCmd(opts))
	return rootCmd
}

// parsePayload reads JSON payloads; anything that isn't valid JSON is stored as a plain string.
func parsePayload(raw string) any {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return raw
	}
	return payload
}

func printResponse(cmd *cobra.Command, resp wire.Response, err error) error {
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format response: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	if !resp.Success {
		return errFailed
	}
	return nil
}

func addCmd(opts *globalOptions) *cobra.Command {
	var (
		typeTag string
		ttl     time.Duration
		raw     bool
		encode  bool
	)
	cmd := &cobra.Command{
		Use:   "add <key> <payload>",
		Short: "Store a payload; JSON payloads are stored as structured values",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := client.AddParams{Key: args[0], Payload: parsePayload(args[1]), TypeTag: typeTag, TTL: ttl, UserID: opts.userID}
			if raw {
				params.Payload = args[1]
			}
			if cmd.Flags().Changed("encode") {
				params.Encode = &encode
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.newClient().Add(ctx, params)
			return printResponse(cmd, resp, err)
		},
	}
	cmd.Flags().StringVar(&typeTag, "tag", "", "Type tag of the entry")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live; 0 means the server default")
	cmd.Flags().BoolVar(&raw, "raw", false, "Store the payload as a plain string even if it is valid JSON")
	cmd.Flags().BoolVar(&encode, "encode", true, "Ask the server to keep the payload encoded; defaults to the server setting")
	return cmd
}

func getCmd(opts *globalOptions) *cobra.Command {
	var (
		typeTag  string
		resetTTL bool
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get [key]",
		Short: "Look an entry up by key, or every entry with --tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := client.GetParams{TypeTag: typeTag, UserID: opts.userID, ResetTTL: resetTTL, TTL: ttl}
			if len(args) == 1 {
				params.Key = args[0]
			}
			if params.Key == "" && params.TypeTag == "" {
				return errors.New("either a key or --tag is required")
			}
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.newClient().Get(ctx, params)
			return printResponse(cmd, resp, err)
		},
	}
	cmd.Flags().StringVar(&typeTag, "tag", "", "Return every entry with this type tag")
	cmd.Flags().BoolVar(&resetTTL, "reset", false, "Give every returned entry a fresh expiry")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live used by --reset; 0 means the server default")
	return cmd
}

func removeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <key>",
		Short: "Delete an entry and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.newClient().Remove(ctx, args[0], opts.userID)
			return printResponse(cmd, resp, err)
		},
	}
}

func resetCmd(opts *globalOptions) *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "reset <key>",
		Short: "Give an entry a fresh expiry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := opts.context(cmd)
			defer cancel()
			resp, err := opts.newClient().Reset(ctx, args[0], ttl, opts.userID)
			return printResponse(cmd, resp, err)
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Time to live; 0 means the server default")
	return cmd
}
