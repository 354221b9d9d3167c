package server

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func decode(t *testing.T, b []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("bad response %s: %v", b, err)
	}
	return m
}

func TestProcessRequest(t *testing.T) {
	d := NewUDSDaemon(DaemonConfig{SocketPath: "unused.sock"}, newTestStore(t, testCSV))

	tests := []struct {
		name    string
		req     string
		wantErr bool
		check   func(t *testing.T, resp map[string]any)
	}{
		{
			name: "ping",
			req:  `{"action":"ping"}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["pong"] != true {
					t.Errorf("pong = %v", resp["pong"])
				}
			},
		},
		{
			name: "lookup found",
			req:  `{"action":"lookup","query":{"a":1,"b":"2"}}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["result"] != "100" || resp["found"] != true {
					t.Errorf("resp = %v", resp)
				}
			},
		},
		{
			name: "lookup not found",
			req:  `{"action":"lookup","query":{"a":9,"b":9}}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["result"] != "-1" || resp["found"] != false {
					t.Errorf("resp = %v", resp)
				}
			},
		},
		{
			name: "average",
			req:  `{"action":"average","queries":[{"a":1,"b":2},{"a":3,"b":4},{"a":0,"b":0}]}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["average"] != "69.0" {
					t.Errorf("average = %v", resp["average"])
				}
			},
		},
		{
			name: "average empty",
			req:  `{"action":"average","queries":[]}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["average"] != "0.0" {
					t.Errorf("average = %v", resp["average"])
				}
			},
		},
		{
			name:    "schema error",
			req:     `{"action":"lookup","query":{"a":1}}`,
			wantErr: true,
			check: func(t *testing.T, resp map[string]any) {
				if resp["kind"] != "schema" {
					t.Errorf("kind = %v", resp["kind"])
				}
			},
		},
		{
			name: "stats",
			req:  `{"action":"stats"}`,
			check: func(t *testing.T, resp map[string]any) {
				if _, ok := resp["stats"].(map[string]any); !ok {
					t.Errorf("stats = %v", resp["stats"])
				}
			},
		},
		{
			name: "status",
			req:  `{"action":"status"}`,
			check: func(t *testing.T, resp map[string]any) {
				ds, ok := resp["dataset"].(map[string]any)
				if !ok || ds["valueColumn"] != "value" {
					t.Errorf("dataset = %v", resp["dataset"])
				}
			},
		},
		{
			name: "reload",
			req:  `{"action":"reload"}`,
			check: func(t *testing.T, resp map[string]any) {
				if resp["reloaded"] != true {
					t.Errorf("resp = %v", resp)
				}
			},
		},
		{name: "unknown action", req: `{"action":"drop"}`, wantErr: true},
		{name: "invalid json", req: `{"action":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := decode(t, d.processRequest([]byte(tt.req)))
			if tt.wantErr {
				if resp["error"] == nil {
					t.Errorf("expected error, got %v", resp)
				}
			} else if resp["error"] != nil {
				t.Errorf("unexpected error: %v", resp["error"])
			}
			if tt.check != nil {
				tt.check(t, resp)
			}
		})
	}
}

func TestDaemonLargeIntegerKeepsText(t *testing.T) {
	d := NewUDSDaemon(DaemonConfig{}, newTestStore(t, "k,value\n9007199254740993,1\n"))
	resp := decode(t, d.processRequest([]byte(`{"action":"lookup","query":{"k":9007199254740993}}`)))
	if resp["result"] != "1" {
		t.Errorf("resp = %v", resp)
	}
}

func TestDaemonSocketEnv(t *testing.T) {
	t.Setenv("MATCHCACHE_SOCKET", "/tmp/from-env.sock")
	d := NewUDSDaemon(DaemonConfig{}, nil)
	if d.SocketPath() != "/tmp/from-env.sock" {
		t.Errorf("SocketPath = %s", d.SocketPath())
	}
}

func TestDaemonServe(t *testing.T) {
	// Unix socket paths are length-limited, so stay out of t.TempDir.
	dir, err := os.MkdirTemp("", "mc")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	sock := filepath.Join(dir, "d.sock")

	d := NewUDSDaemon(DaemonConfig{SocketPath: sock}, newTestStore(t, testCSV))
	if err := d.Listen(); err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- d.Serve() }()

	conn, err := net.DialTimeout("unix", sock, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	r := bufio.NewReader(conn)

	for _, req := range []string{
		`{"action":"lookup","query":{"a":3,"b":4}}`,
		`{"action":"lookup","query":{"a":3,"b":4}}`,
	} {
		if _, err := conn.Write([]byte(req + "\n\n")); err != nil {
			t.Fatal(err)
		}
		line, err := r.ReadBytes('\n')
		if err != nil {
			t.Fatal(err)
		}
		if resp := decode(t, line); resp["result"] != "7" {
			t.Errorf("resp = %v", resp)
		}
	}

	if st := d.store.Stats(); st.Hits != 1 || st.Scans != 1 {
		t.Errorf("stats = %+v", st)
	}

	d.Shutdown()
	select {
	case err := <-served:
		if err != nil {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after Shutdown")
	}
	if _, err := os.Stat(sock); !os.IsNotExist(err) {
		t.Error("socket file not removed")
	}
}
