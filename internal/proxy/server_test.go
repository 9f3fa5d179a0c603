package proxy

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/mcguard/internal/config"
	"github.com/udisondev/mcguard/internal/filter"
	"github.com/udisondev/mcguard/internal/protocol"
)

// testConfig disables every check so admission verdicts are immediate.
func testConfig() config.Proxy {
	cfg := config.DefaultProxy()
	cfg.Filter.MapCaptcha.Enabled = false
	cfg.Filter.Gravity.Enabled = false
	cfg.Filter.Collision.Enabled = false
	cfg.Filter.Vehicle.Enabled = false
	cfg.Filter.ClientBrand.Enabled = false
	return cfg
}

func startServer(t *testing.T, cfg config.Proxy) string {
	t.Helper()

	ctrl, err := filter.NewController(cfg.Filter)
	require.NoError(t, err)

	srv := NewServer(cfg, ctrl)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ln.Addr().String()
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func appendStr(dst []byte, s string) []byte {
	dst = protocol.AppendVarInt(dst, int32(len(s)))
	return append(dst, s...)
}

func sendHandshake(t *testing.T, conn net.Conn, nextState int32) {
	t.Helper()
	body := protocol.AppendVarInt(nil, 0x00)
	body = protocol.AppendVarInt(body, 47)
	body = appendStr(body, "127.0.0.1")
	body = append(body, 0x63, 0xDD)
	body = protocol.AppendVarInt(body, nextState)
	require.NoError(t, protocol.WriteFrame(conn, body))
}

func sendLoginStart(t *testing.T, conn net.Conn, username string) {
	t.Helper()
	body := protocol.AppendVarInt(nil, 0x00)
	body = appendStr(body, username)
	require.NoError(t, protocol.WriteFrame(conn, body))
}

// readKick reads one login-state frame and returns the disconnect JSON.
func readKick(t *testing.T, conn net.Conn) string {
	t.Helper()
	body, err := protocol.ReadFrame(conn, make([]byte, 512))
	require.NoError(t, err)

	fr := bytes.NewReader(body)
	id, err := protocol.ReadVarInt(fr)
	require.NoError(t, err)
	require.Equal(t, int32(0x00), id, "expected a login disconnect")

	n, err := protocol.ReadVarInt(fr)
	require.NoError(t, err)
	msg := make([]byte, n)
	_, err = io.ReadFull(fr, msg)
	require.NoError(t, err)
	return string(msg)
}

func TestServer_AdmitsCleanLogin(t *testing.T) {
	addr := startServer(t, testConfig())
	conn := dial(t, addr)

	sendHandshake(t, conn, protocol.NextStateLogin)
	sendLoginStart(t, conn, "alice")

	require.Contains(t, readKick(t, conn), "mcguard.kick.verified")
}

func TestServer_RejectsInvalidName(t *testing.T) {
	addr := startServer(t, testConfig())
	conn := dial(t, addr)

	sendHandshake(t, conn, protocol.NextStateLogin)
	sendLoginStart(t, conn, "no spaces allowed")

	require.Contains(t, readKick(t, conn), "mcguard.kick.invalid_name")
}

func TestServer_ForceRejoinKicksWithReconnect(t *testing.T) {
	cfg := testConfig()
	cfg.Filter.ForceRejoin = true
	addr := startServer(t, cfg)

	conn := dial(t, addr)
	sendHandshake(t, conn, protocol.NextStateLogin)
	sendLoginStart(t, conn, "alice")
	require.Contains(t, readKick(t, conn), "mcguard.kick.please_reconnect")
	conn.Close()

	// The second leg from the same source and name goes through.
	conn2 := dial(t, addr)
	sendHandshake(t, conn2, protocol.NextStateLogin)
	sendLoginStart(t, conn2, "alice")
	require.Contains(t, readKick(t, conn2), "mcguard.kick.verified")
}

func TestServer_StatusPingPong(t *testing.T) {
	addr := startServer(t, testConfig())
	conn := dial(t, addr)

	sendHandshake(t, conn, protocol.NextStateStatus)

	// Status request.
	require.NoError(t, protocol.WriteFrame(conn, protocol.AppendVarInt(nil, 0x00)))

	body, err := protocol.ReadFrame(conn, make([]byte, 4096))
	require.NoError(t, err)
	fr := bytes.NewReader(body)
	id, err := protocol.ReadVarInt(fr)
	require.NoError(t, err)
	require.Equal(t, int32(0x00), id)

	n, err := protocol.ReadVarInt(fr)
	require.NoError(t, err)
	doc := make([]byte, n)
	_, err = io.ReadFull(fr, doc)
	require.NoError(t, err)
	require.Contains(t, string(doc), "mcguard edge")

	// Ping with an arbitrary payload; the pong must echo it.
	ping := protocol.AppendVarInt(nil, 0x01)
	ping = binary.BigEndian.AppendUint64(ping, 0xCAFEBABE)
	require.NoError(t, protocol.WriteFrame(conn, ping))

	body, err = protocol.ReadFrame(conn, make([]byte, 64))
	require.NoError(t, err)
	fr = bytes.NewReader(body)
	id, err = protocol.ReadVarInt(fr)
	require.NoError(t, err)
	require.Equal(t, int32(0x01), id)

	var payload [8]byte
	_, err = io.ReadFull(fr, payload[:])
	require.NoError(t, err)
	require.Equal(t, uint64(0xCAFEBABE), binary.BigEndian.Uint64(payload[:]))
}
