package client

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/QYUbit/Replica/pkg/entities"
	"github.com/QYUbit/Replica/pkg/mathx"
	"github.com/QYUbit/Replica/pkg/replication"
	"github.com/QYUbit/Replica/pkg/server"
	"github.com/QYUbit/Replica/pkg/transport"
	"github.com/QYUbit/Replica/pkg/transport/netsock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplicationOverLoopback(t *testing.T) {
	ln, err := netsock.Listen(0, transport.Options{})
	require.NoError(t, err)
	addr := fmt.Sprintf("127.0.0.1:%d", ln.Addr().(*net.TCPAddr).Port)

	srv, err := server.New(server.Options{
		Transport:       ln,
		Registry:        entities.NewRegistry(),
		ProtocolVersion: 1,
		TickInterval:    5 * time.Millisecond,
		PollTimeout:     2 * time.Millisecond,
		World: func() []replication.Entity {
			return []replication.Entity{entities.NewGameMap(1), entities.NewAIPlayer()}
		},
		OnJoin: func(transport.ClientID) []replication.Entity {
			return []replication.Entity{entities.NewPlayer(entities.PlayerParams{Spawn: mathx.Vec3{Z: 1.8}})}
		},
	})
	require.NoError(t, err)

	srvCtx, stopServer := context.WithCancel(context.Background())
	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(srvCtx) }()
	defer func() {
		stopServer()
		<-srvDone
	}()

	conn, err := netsock.Dial(addr, 0, transport.Options{})
	require.NoError(t, err)

	rec := &frameRecorder{}
	c, err := New(Options{
		Transport:       conn,
		Registry:        entities.NewRegistry(),
		Renderer:        rec,
		ProtocolVersion: 1,
		PollTimeout:     2 * time.Millisecond,
		FrameInterval:   5 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, stopClient := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		f, ok := rec.last()
		return ok && len(f.Draws) > 0 && !f.Camera.View.Forward.IsZero()
	}, 3*time.Second, 5*time.Millisecond, "client never drew the replicated world")

	f, _ := rec.last()
	assert.Equal(t, float32(90), f.Camera.FOV)

	stopClient()
	require.NoError(t, <-done)

	require.Eventually(t, func() bool { return srv.Sessions() == 0 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return srv.World().Snapshot().Len() == 2 }, 3*time.Second, 5*time.Millisecond)
}
