// Command replica runs the replication server when given any argument and a
// headless client otherwise.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/QYUbit/Replica/pkg/client"
	"github.com/QYUbit/Replica/pkg/config"
	"github.com/QYUbit/Replica/pkg/entities"
	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/netlog"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/resources"
	"github.com/QYUbit/Replica/pkg/server"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/transport/netsock"
	"github.com/QYUbit/Replica/pkg/transport/quic"
	websockets "github.com/QYUbit/Replica/pkg/transport/websocket"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, err := netlog.New(cfg.LogLevel, os.Stderr)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	if len(os.Args) > 1 {
		err = runServer(ctx, cfg, logger)
	} else {
		err = runClient(ctx, cfg, logger)
	}
	if err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func transportOptions(cfg config.Config, logger netlog.Logger) transport.Options {
	return transport.Options{
		Logger:        logger.With("component", "transport"),
		MaxPacketSize: cfg.MaxPacketSize,
		EventBuffer:   cfg.QueueCapacity,
	}
}

// newRegistry builds the entity registry and checks that every state fits
// the configured packet size.
func newRegistry(cfg config.Config) (*replication.Registry, error) {
	reg := entities.NewRegistry()
	if err := cfg.CheckStateSize(reg.MaxStateSize()); err != nil {
		return nil, err
	}
	return reg, nil
}

func runServer(ctx context.Context, cfg config.Config, logger netlog.Logger) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}

	var ts transport.Server
	switch cfg.Transport {
	case "quic":
		tlsConf, err := quic.SelfSignedTLS()
		if err != nil {
			return err
		}
		s, err := quic.Listen(fmt.Sprintf("0.0.0.0:%d", cfg.Port), tlsConf, transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		ts = s
	case "websocket":
		s, err := websockets.Listen(fmt.Sprintf(":%d", cfg.Port), transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		ts = s
	default:
		s, err := netsock.Listen(cfg.Port, transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		ts = s
	}

	srv, err := server.New(server.Options{
		Transport:                   ts,
		Registry:                    reg,
		Resources:                   resources.NewManager(nil),
		Logger:                      logger,
		ProtocolVersion:             cfg.ProtocolVersion,
		DisconnectOnVersionMismatch: cfg.DisconnectOnVersionMismatch,
		TickInterval:                cfg.Tick(),
		PollTimeout:                 cfg.ServerPoll.Timeout(),
		PollIterations:              cfg.ServerPoll.MaxIterations,
		MaxVisible:                  cfg.MaxVisibleObjects,
		QueueCapacity:               cfg.QueueCapacity,
		DefaultCamera:               server.Camera{FOV: cfg.FOV, AspectRatio: cfg.AspectRatio},
		World: func() []replication.Entity {
			return []replication.Entity{entities.NewGameMap(1), entities.NewAIPlayer()}
		},
		OnJoin: func(transport.ClientID) []replication.Entity {
			return []replication.Entity{avatar(cfg.Avatar)}
		},
	})
	if err != nil {
		ts.Close()
		return err
	}
	return srv.Run(ctx)
}

func avatar(kind string) replication.Entity {
	if kind == "car" {
		return entities.NewCar()
	}
	return entities.NewPlayer(entities.PlayerParams{Spawn: mathx.Vec3{Z: 10}})
}

func runClient(ctx context.Context, cfg config.Config, logger netlog.Logger) error {
	reg, err := newRegistry(cfg)
	if err != nil {
		return err
	}
	addr, err := promptAddr(cfg.ServerAddr())
	if err != nil {
		return err
	}

	var tc transport.Client
	switch cfg.Transport {
	case "quic":
		c, err := quic.Dial(ctx, addr, quic.ClientTLS(), transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		tc = c
	case "websocket":
		c, err := websockets.Dial(ctx, websockets.URL(addr), transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		tc = c
	default:
		c, err := netsock.Dial(addr, 0, transportOptions(cfg, logger))
		if err != nil {
			return err
		}
		tc = c
	}

	c, err := client.New(client.Options{
		Transport:       tc,
		Registry:        reg,
		Resources:       resources.NewManager(nil),
		Renderer:        newLogRenderer(logger),
		Input:           &wanderInput{},
		Logger:          logger,
		ProtocolVersion: cfg.ProtocolVersion,
		MaxVisible:      cfg.MaxVisibleObjects,
		PollTimeout:     cfg.ClientPoll.Timeout(),
		PollIterations:  cfg.ClientPoll.MaxIterations,
		QueueCapacity:   cfg.QueueCapacity,
		FOV:             cfg.FOV,
		AspectRatio:     cfg.AspectRatio,
	})
	if err != nil {
		tc.Close()
		return err
	}

	err = c.Run(ctx)
	if errors.Is(err, client.ErrServerGone) {
		logger.Info("server closed the connection")
		return nil
	}
	return err
}

// promptAddr asks for the server address on stdin. An empty answer keeps fallback.
func promptAddr(fallback string) (string, error) {
	fmt.Printf("Server address [%s]: ", fallback)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if line = strings.TrimSpace(line); line != "" {
		return line, nil
	}
	return fallback, nil
}
