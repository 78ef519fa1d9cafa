package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/urfave/cli/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "pt100-monitor/internal/api/grpc"
	"pt100-monitor/internal/config"
)

const defaultCallTimeout = 45 * time.Second

type unaryCall func(*grpcapi.Client, context.Context, ...grpc.CallOption) (*structpb.Struct, error)

// ctlCommand drives a running server over gRPC.
func ctlCommand() *cli.Command {
	unary := func(name, usage string, call unaryCall) *cli.Command {
		return &cli.Command{
			Name:  name,
			Usage: usage,
			Action: func(ctx context.Context, cmd *cli.Command) error {
				return withClient(ctx, cmd, func(ctx context.Context, client *grpcapi.Client) error {
					callCtx, cancel := context.WithTimeout(ctx, cmd.Duration("timeout"))
					defer cancel()
					reply, err := call(client, callCtx)
					if err != nil {
						return err
					}
					return printStruct(os.Stdout, reply)
				})
			},
		}
	}

	return &cli.Command{
		Name:  "ctl",
		Usage: "control a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "gRPC address of the server",
				Value: net.JoinHostPort("localhost", config.DefaultGRPCPort),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-call timeout",
				Value: defaultCallTimeout,
			},
		},
		Commands: []*cli.Command{
			unary("start", "start a measurement run", (*grpcapi.Client).Start),
			unary("stop", "stop the current run", (*grpcapi.Client).Stop),
			unary("configure", "connect to and configure the instrument", (*grpcapi.Client).Configure),
			unary("status", "print the session status", (*grpcapi.Client).Status),
			unary("latest", "print the latest sample", (*grpcapi.Client).Latest),
			{
				Name:  "watch",
				Usage: "print pushed status and data messages until interrupted",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					return withClient(ctx, cmd, func(ctx context.Context, client *grpcapi.Client) error {
						stream, err := client.Watch(ctx)
						if err != nil {
							return err
						}
						for {
							msg, err := stream.Recv()
							if err != nil {
								if errors.Is(err, io.EOF) || ctx.Err() != nil {
									return nil
								}
								return err
							}
							if err := printStruct(os.Stdout, msg); err != nil {
								return err
							}
						}
					})
				},
			},
		},
	}
}

func withClient(ctx context.Context, cmd *cli.Command, fn func(context.Context, *grpcapi.Client) error) error {
	conn, err := grpc.NewClient(cmd.String("addr"), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("ctl: connect %s: %w", cmd.String("addr"), err)
	}
	defer conn.Close()
	return fn(ctx, grpcapi.NewClient(conn))
}

func printStruct(w io.Writer, msg *structpb.Struct) error {
	out, err := protojson.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
