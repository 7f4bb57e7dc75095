package framework

import (
	"bytes"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeTerraform stands in for terraform. apply copies the fixture state,
// or writes an empty state for destroy applies.
const fakeTerraform = `#!/bin/sh
case "$1" in
version)
	echo "Terraform v1.5.7"
	;;
init)
	echo "Terraform has been successfully initialized!"
	;;
plan)
	for arg in "$@"; do
		case "$arg" in -out=*) out="${arg#-out=}" ;; esac
	done
	echo "binary plan" > "$out"
	echo "Plan: 3 to add, 0 to change, 1 to destroy."
	;;
show)
	cat "$FAKE_TF_PLAN"
	;;
apply)
	echo "module.openstack.openstack_compute_keypair_v2.keypair: Creating..."
	if [ "$TF_WARN_OUTPUT_ERRORS" = "1" ]; then
		echo '{"version": 4, "resources": []}' > terraform.tfstate
	else
		cp "$FAKE_TF_STATE" terraform.tfstate
	fi
	echo "module.openstack.openstack_compute_keypair_v2.keypair: Creation complete after 1s"
	;;
*)
	echo "unsupported command $1" >&2
	exit 1
	;;
esac
`

// Env is a castlehub installation in a temporary directory: the binary,
// a fake terraform, a config file and the endpoints clusters answer on
type Env struct {
	t      *testing.T
	Dir    string
	Binary string
	Config string

	HealthAddr string
	Online     atomic.Bool
	endpoints  *httptest.Server
}

// NewEnv builds castlehub and writes its configuration
func NewEnv(t *testing.T) *Env {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping e2e test")
	}

	root := moduleRoot(t)
	e := &Env{t: t, Dir: t.TempDir()}

	e.Binary = filepath.Join(e.Dir, "castlehub")
	build := exec.Command("go", "build", "-o", e.Binary, "./cmd/castlehub")
	build.Dir = root
	out, err := build.CombinedOutput()
	require.NoError(t, err, "go build: %s", out)

	tf := filepath.Join(e.Dir, "terraform")
	require.NoError(t, os.WriteFile(tf, []byte(fakeTerraform), 0755))

	e.endpoints = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !e.Online.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(e.endpoints.Close)

	e.HealthAddr = freeAddr(t)
	e.Config = filepath.Join(e.Dir, "castlehub.yaml")
	config := fmt.Sprintf(`data_dir: %s
secret_key: e2e-secret
terraform:
  binary: %s
provisioning:
  poll_interval: 100ms
  max_duration: 30s
  endpoints:
    - "%s/jupyter/%%s"
    - "%s/ipa/%%s"
domains:
  calculquebec.cloud: ""
server:
  health_addr: %s
reconciler:
  interval: 1s
`, filepath.Join(e.Dir, "data"), tf, e.endpoints.URL, e.endpoints.URL, e.HealthAddr)
	require.NoError(t, os.WriteFile(e.Config, []byte(config), 0644))

	t.Setenv("FAKE_TF_STATE", filepath.Join(root, "pkg", "terraform", "testdata", "terraform.tfstate"))
	t.Setenv("FAKE_TF_PLAN", filepath.Join(root, "pkg", "terraform", "testdata", "terraform_plan.json"))

	return e
}

// WriteFile writes a file under the environment directory
func (e *Env) WriteFile(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.Dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// Run runs one castlehub command to completion and returns its stdout
func (e *Env) Run(args ...string) (string, error) {
	e.t.Helper()
	cmd := exec.Command(e.Binary, append([]string{"--config", e.Config}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return stdout.String(), fmt.Errorf("castlehub %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return stdout.String(), nil
}

// MustRun is Run failing the test on error
func (e *Env) MustRun(args ...string) string {
	e.t.Helper()
	out, err := e.Run(args...)
	require.NoError(e.t, err)
	return out
}

// Serve starts castlehub serve in the background
func (e *Env) Serve() *Process {
	e.t.Helper()
	p := NewProcess(e.Binary)
	p.Args = []string{"--config", e.Config, "serve"}
	require.NoError(e.t, p.Start())
	e.t.Cleanup(func() { _ = p.Stop() })
	return p
}

// WaitReady waits until the health server reports ready
func (e *Env) WaitReady(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get("http://" + e.HealthAddr + "/ready")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("castlehub not ready after %s", timeout)
}

func moduleRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		require.NotEqual(t, dir, parent, "go.mod not found")
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().String()
}
