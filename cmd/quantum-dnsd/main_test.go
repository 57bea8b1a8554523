package main

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/skrahmer/quantum-dns/internal/qdns/common/log"
	"github.com/skrahmer/quantum-dns/internal/qdns/config"
	"github.com/skrahmer/quantum-dns/internal/qdns/wire"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want flags
	}{
		{
			name: "defaults",
			args: nil,
			want: flags{bindPort: 53},
		},
		{
			name: "zone and bind",
			args: []string{"-Z", "zone.txt", "-l", "127.0.0.1", "-p", "5353"},
			want: flags{zonePath: "zone.txt", bindAddr: "127.0.0.1", bindPort: 5353},
		},
		{
			name: "capture mode",
			args: []string{"-M", "eth0", "-f", "host 1.2.3.4", "-6"},
			want: flags{bindPort: 53, captureDevice: "eth0", captureFilter: "host 1.2.3.4", ipv6: true},
		},
		{
			name: "miss-handling flags",
			args: []string{"-X", "-R"},
			want: flags{bindPort: 53, neverNXDOMAIN: true, resendOnMiss: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := parseFlags(tt.args)
			require.NoError(t, err)
			require.Equal(t, tt.want, *f)
		})
	}
}

func TestParseFlagsRejectsUnknownFlag(t *testing.T) {
	_, err := parseFlags([]string{"-bogus"})
	require.Error(t, err)
}

func TestBuildApplicationConfigurationVariations(t *testing.T) {
	cfg := &config.AppConfig{Env: "prod", LogLevel: "error", OnceSetSize: 10}
	logger := log.NewNoopLogger()

	tests := []struct {
		name          string
		setup         func(t *testing.T) *flags
		wantErr       bool
		errorContains string
	}{
		{
			name: "valid zone file with socket transport",
			setup: func(t *testing.T) *flags {
				zonePath := filepath.Join(t.TempDir(), "zone.txt")
				require.NoError(t, os.WriteFile(zonePath, []byte("www.example 60 IN A 127.0.0.1\n"), 0o644))
				return &flags{zonePath: zonePath, bindAddr: "127.0.0.1", bindPort: 0}
			},
			wantErr: false,
		},
		{
			name: "nonexistent zone file",
			setup: func(t *testing.T) *flags {
				return &flags{zonePath: filepath.Join(t.TempDir(), "missing.txt"), bindPort: 0}
			},
			wantErr:       true,
			errorContains: "open zone file",
		},
		{
			name: "malformed zone lines are skipped, not fatal",
			setup: func(t *testing.T) *flags {
				zonePath := filepath.Join(t.TempDir(), "zone.txt")
				require.NoError(t, os.WriteFile(zonePath, []byte("this is not a zone line\n"), 0o644))
				return &flags{zonePath: zonePath, bindPort: 0}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, err := buildApplication(tt.setup(t), cfg, logger)
			if tt.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tt.errorContains)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, app)
			require.NoError(t, app.transport.Close())
		})
	}
}

// TestApplicationIntegration drives a real Application end to end over a
// loopback UDP socket: a query for a compiled record gets a real answer.
func TestApplicationIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	zonePath := filepath.Join(t.TempDir(), "zone.txt")
	require.NoError(t, os.WriteFile(zonePath, []byte("test.example 60 IN A 10.0.0.1\n"), 0o644))

	// Reserve a free UDP port, then release it for buildApplication to bind
	// to, since the transport gives no way to learn its address afterward.
	probe, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	require.NoError(t, err)
	port := probe.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, probe.Close())

	cfg := &config.AppConfig{Env: "prod", LogLevel: "error", OnceSetSize: 10}
	f := &flags{zonePath: zonePath, bindAddr: "127.0.0.1", bindPort: port}

	app, err := buildApplication(f, cfg, log.NewNoopLogger())
	require.NoError(t, err)
	defer app.transport.Close()

	go app.Run()

	client, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: port})
	require.NoError(t, err)
	defer client.Close()

	query := buildTestQuery(t, "test.example", 1)
	require.Eventually(t, func() bool {
		_, err := client.Write(query)
		return err == nil
	}, time.Second, 10*time.Millisecond, "server never started accepting datagrams")

	buf := make([]byte, 512)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Equal(t, []byte{10, 0, 0, 1}, buf[n-4:n])
}

func buildTestQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	encoded, err := wire.EncodeName(name)
	require.NoError(t, err)

	hdr := wire.Header{ID: 1, QDCount: 1}
	out := hdr.Pack()
	out = append(out, encoded...)
	tail := make([]byte, 4)
	binary.BigEndian.PutUint16(tail[0:2], qtype)
	binary.BigEndian.PutUint16(tail[2:4], 1)
	return append(out, tail...)
}
