package client

import (
	"bytes"
	"context"
	"errors"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/fileshare/internal/dataplane"
	"github.com/fruitsalade/fileshare/internal/listener"
	"github.com/fruitsalade/fileshare/internal/logging"
	"github.com/fruitsalade/fileshare/internal/registry"
	"github.com/fruitsalade/fileshare/internal/retry"
	"github.com/fruitsalade/fileshare/internal/tlsprov"
	"github.com/fruitsalade/fileshare/internal/transfer"
)

func TestMain(m *testing.M) {
	logging.InitNop()
	os.Exit(m.Run())
}

func strPtr(s string) *string { return &s }

type daemon struct {
	addr     string
	reg      *registry.Registry
	certFile string
}

// startDaemon serves the data plane over real TLS on a loopback port.
func startDaemon(t *testing.T, password *string) *daemon {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "cert.pem")
	tlsCfg, err := tlsprov.LoadOrGenerate(certFile, filepath.Join(dir, "key.pem"))
	if err != nil {
		t.Fatal(err)
	}
	pw, err := dataplane.NewPasswordWithCost(password, bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}

	reg := registry.New()
	srv := dataplane.NewServer(reg, dataplane.Config{Password: pw, TLS: tlsCfg})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		listener.Serve(ctx, "data", ln, srv)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &daemon{addr: ln.Addr().String(), reg: reg, certFile: certFile}
}

func (d *daemon) dial(t *testing.T, password *string) (*Client, error) {
	t.Helper()
	tlsCfg, err := tlsprov.ClientConfig(d.certFile, "localhost")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return Dial(ctx, Config{Addr: d.addr, Password: password, TLS: tlsCfg})
}

func writeFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	rand.New(rand.NewSource(int64(size))).Read(data)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path, data
}

func TestAuthMatrix(t *testing.T) {
	cases := []struct {
		name       string
		configured *string
		sent       *string
		ok         bool
	}{
		{"none vs none", nil, nil, true},
		{"same password", strPtr("x"), strPtr("x"), true},
		{"wrong password", strPtr("x"), strPtr("y"), false},
		{"missing password", strPtr("x"), nil, false},
		{"unexpected password", nil, strPtr("x"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := startDaemon(t, tc.configured)
			c, err := d.dial(t, tc.sent)
			if tc.ok {
				if err != nil {
					t.Fatalf("expected auth ok, got %v", err)
				}
				c.Quit(context.Background())
				return
			}
			if !errors.Is(err, ErrAuthFailed) {
				t.Fatalf("expected ErrAuthFailed, got %v", err)
			}
		})
	}
}

func TestListAndDownload(t *testing.T) {
	d := startDaemon(t, strPtr("pw"))
	path, data := writeFile(t, t.TempDir(), "src.bin", 3*transfer.ChunkSize+999)
	d.reg.Add("src.bin", path)

	c, err := d.dial(t, strPtr("pw"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit(context.Background())

	ctx := context.Background()
	names, err := c.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "src.bin" {
		t.Fatalf("unexpected list %v", names)
	}

	out := filepath.Join(t.TempDir(), "out.bin")
	info, err := c.DownloadFile(ctx, "src.bin", out)
	if err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	if info.Size != uint64(len(data)) {
		t.Errorf("unexpected size %d", info.Size)
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, data) {
		t.Error("downloaded file differs")
	}
}

func TestDownloadResumesPartialFile(t *testing.T) {
	d := startDaemon(t, nil)
	path, data := writeFile(t, t.TempDir(), "big.bin", 10*transfer.ChunkSize)
	d.reg.Add("big.bin", path)

	// three whole chunks plus a torn fourth
	out := filepath.Join(t.TempDir(), "big.bin")
	if err := os.WriteFile(out, data[:3*transfer.ChunkSize+123], 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := d.dial(t, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit(context.Background())

	var buf bytes.Buffer
	info, err := c.Download(context.Background(), "big.bin", 3*transfer.ChunkSize, &buf)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size != uint64(len(data)) {
		t.Errorf("FileInfo should describe the whole file, got size %d", info.Size)
	}
	if !bytes.Equal(buf.Bytes(), data[3*transfer.ChunkSize:]) {
		t.Error("resumed stream differs from file tail")
	}

	if _, err := c.DownloadFile(context.Background(), "big.bin", out); err != nil {
		t.Fatalf("DownloadFile: %v", err)
	}
	got, _ := os.ReadFile(out)
	if !bytes.Equal(got, data) {
		t.Error("resumed file differs")
	}
}

func TestDownloadHashMismatch(t *testing.T) {
	d := startDaemon(t, nil)
	path, data := writeFile(t, t.TempDir(), "f.bin", 2*transfer.ChunkSize)
	d.reg.Add("f.bin", path)

	// a corrupt first chunk is kept by resume and caught by the hash check
	out := filepath.Join(t.TempDir(), "f.bin")
	bad := append([]byte(nil), data[:transfer.ChunkSize]...)
	bad[0] ^= 0xff
	if err := os.WriteFile(out, bad, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := d.dial(t, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit(context.Background())

	if _, err := c.DownloadFile(context.Background(), "f.bin", out); !errors.Is(err, ErrHashMismatch) {
		t.Errorf("expected ErrHashMismatch, got %v", err)
	}
}

func TestDownloadUnknownFile(t *testing.T) {
	d := startDaemon(t, nil)
	c, err := d.dial(t, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit(context.Background())

	_, err = c.Download(context.Background(), "nope", 0, &bytes.Buffer{})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != dataplane.MsgFileNotFound {
		t.Fatalf("expected File not found, got %v", err)
	}
	// session still usable
	if _, err := c.List(context.Background()); err != nil {
		t.Errorf("List after error: %v", err)
	}
}

func TestDownloadFileUnknownLeavesNoFile(t *testing.T) {
	d := startDaemon(t, nil)
	c, err := d.dial(t, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Quit(context.Background())

	path := filepath.Join(t.TempDir(), "nope")
	_, err = c.DownloadFile(context.Background(), "nope", path)
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Message != dataplane.MsgFileNotFound {
		t.Fatalf("expected File not found, got %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("output file left behind: %v", err)
	}
}

func TestDialRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	attempts := 0
	cfg := Config{
		Addr:        addr,
		DialTimeout: time.Second,
		RetryConfig: retry.Config{
			MaxAttempts: 3,
			InitialWait: time.Millisecond,
			MaxWait:     time.Millisecond,
			Multiplier:  1,
			OnRetry:     func(int, time.Duration, error) { attempts++ },
		},
	}
	if _, err := Dial(context.Background(), cfg); err == nil {
		t.Fatal("expected dial to fail")
	}
	if attempts != 2 {
		t.Errorf("expected 2 retries, got %d", attempts)
	}
}

func TestSessionFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "client.yaml")
	if _, err := LoadSession(path); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}

	want := Session{Addr: "127.0.0.1:9000", Password: strPtr("")}
	if err := SaveSession(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Addr != want.Addr || got.Password == nil || *got.Password != "" {
		t.Errorf("unexpected session %+v", got)
	}

	if err := RemoveSession(path); err != nil {
		t.Fatal(err)
	}
	if err := RemoveSession(path); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected ErrNoSession on second remove, got %v", err)
	}
}
