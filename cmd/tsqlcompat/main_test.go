package main

import (
	"bytes"
	"crypto/tls"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ha1tch/tsqlcompat/pkg/log"
	"github.com/ha1tch/tsqlcompat/pkg/tlsutil"
	"github.com/ha1tch/tsqlcompat/pkg/version"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"-v"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), version.Version) {
		t.Fatalf("version output = %q", stdout.String())
	}
}

func TestRun_Help(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--help"}, strings.NewReader(""), &stdout, &stderr); code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "Exit Codes:") {
		t.Fatalf("usage missing exit codes:\n%s", stdout.String())
	}
}

func TestRun_BadFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--no-such-flag"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRun_InvalidBackend(t *testing.T) {
	var stdout, stderr bytes.Buffer
	if code := run([]string{"--storage", "oracle"}, strings.NewReader(""), &stdout, &stderr); code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

const nestedScript = `
CREATE TABLE t (v INTEGER);
BEGIN TRAN outer_tx;
INSERT INTO t VALUES (1);
BEGIN TRAN;
COMMIT;
COMMIT TRAN
GO
INSERT INTO t VALUES (2)
`

func TestRun_ScriptFromStdin(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--log-level", "error"}, strings.NewReader(nestedScript), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	want := []string{
		"(0 rows affected)",
		"BEGIN (@@TRANCOUNT = 1)",
		"(1 rows affected)",
		"BEGIN (@@TRANCOUNT = 2)",
		"COMMIT (@@TRANCOUNT = 1)",
		"COMMIT (@@TRANCOUNT = 0)",
		"(1 rows affected)",
	}
	got := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("output lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_BatchWithoutSemicolons(t *testing.T) {
	script := "CREATE TABLE t (v INTEGER)\nGO\nBEGIN TRAN\nINSERT INTO t VALUES (1)\nCOMMIT\nGO\n" +
		"BEGIN TRAN\nBEGIN TRAN\nINSERT INTO t VALUES (2)\nROLLBACK WORK\n"
	var stdout, stderr bytes.Buffer
	code := run([]string{"--log-level", "error"}, strings.NewReader(script), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}

	want := []string{
		"(0 rows affected)",
		"BEGIN (@@TRANCOUNT = 1)",
		"(1 rows affected)",
		"COMMIT (@@TRANCOUNT = 0)",
		"BEGIN (@@TRANCOUNT = 1)",
		"BEGIN (@@TRANCOUNT = 2)",
		"(1 rows affected)",
		"ROLLBACK (@@TRANCOUNT = 0)",
	}
	got := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("output lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_ScriptErrorsContinue(t *testing.T) {
	script := "COMMIT;\nCREATE TABLE t (v INTEGER)"
	var stdout, stderr bytes.Buffer
	code := run([]string{"--log-level", "error"}, strings.NewReader(script), &stdout, &stderr)
	if code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	if !strings.Contains(stderr.String(), "Msg 3902, Level 16, State 1") {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if !strings.Contains(stdout.String(), "(0 rows affected)") {
		t.Fatalf("statement after the error did not run: %q", stdout.String())
	}
}

func TestRun_ScriptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.sql")
	if err := os.WriteFile(path, []byte("BEGIN TRAN\nGO\nROLLBACK\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var stdout, stderr bytes.Buffer
	code := run([]string{"--log-level", "error", "--metastore", filepath.Join(dir, "meta"), path},
		strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "ROLLBACK (@@TRANCOUNT = 0)") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRun_ResolveProcedure(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run([]string{"--log-level", "error", "--resolve", "sp_who"}, strings.NewReader(""), &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
	}
	if !strings.HasPrefix(stdout.String(), "procedure=true") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

const routineConfig = `
[log]
level = "error"

[session]
search_path = "app, dbo"

[[routine]]
name = "customer_name"
schema = "app"
args = ["int"]
returns = "varchar(50)"

[[routine]]
name = "update_totals"
kind = "procedure"
args = ["int"]
`

func TestRun_ResolveDeclaredRoutine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tsqlcompat.toml")
	if err := os.WriteFile(path, []byte(routineConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		call string
		want string
	}{
		{"customer_name 1", "procedure=false type=1043 typmod=54 collation=100"},
		{"app.customer_name @id = 1", "procedure=false type=1043 typmod=54 collation=100"},
		{"dbo.update_totals 1", "procedure=true type=23 typmod=-1 collation=-1"},
	}
	for _, tt := range tests {
		t.Run(tt.call, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{"-c", path, "--metastore", filepath.Join(dir, "meta"), "--resolve", tt.call},
				strings.NewReader(""), &stdout, &stderr)
			if code != 0 {
				t.Fatalf("exit code = %d, stderr: %s", code, stderr.String())
			}
			if got := strings.TrimSpace(stdout.String()); got != tt.want {
				t.Fatalf("stdout = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStartMetrics(t *testing.T) {
	srv, err := startMetrics("127.0.0.1:0", tlsutil.Options{}, log.Discard())
	if err != nil {
		t.Fatalf("startMetrics: %v", err)
	}
	defer srv.Close()

	resp, err := http.Get("http://" + srv.Addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(string(body), "ok") {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestStartMetrics_TLS(t *testing.T) {
	srv, err := startMetrics("127.0.0.1:0", tlsutil.Options{SelfSigned: true}, log.Discard())
	if err != nil {
		t.Fatalf("startMetrics: %v", err)
	}
	defer srv.Close()

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + srv.Addr + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
