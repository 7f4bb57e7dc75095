package e2e

import (
	"testing"
	"time"

	"github.com/cuemby/castlehub/test/framework"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hostname = "phoenix.calculquebec.cloud"

const clusterYAML = `cluster_name: phoenix
domain: calculquebec.cloud
image: Rocky-8.7-x64
nb_users: 10
instances:
  mgmt:
    type: p4-6gb
    count: 1
    tags: [mgmt, nfs, puppet]
  login:
    type: p2-3gb
    count: 1
    tags: [login, proxy, public]
  node:
    type: p2-3gb
    count: 2
    tags: [node]
public_keys:
  - ssh-rsa AAAAB3NzaC1yc2E test@example.org
guest_passwd: password-123
`

// TestClusterLifecycle drives a cluster from creation to deletion through
// the command line
func TestClusterLifecycle(t *testing.T) {
	env := framework.NewEnv(t)
	env.Online.Store(true)
	file := env.WriteFile("phoenix.yaml", clusterYAML)

	out := env.MustRun("cluster", "create", "-f", file, "--owner", "alice@example.org", "--expires", "2030-01-01")
	assert.Contains(t, out, hostname+": created, build plan with 5 changes")

	_, err := env.Run("cluster", "create", "-f", file)
	assert.Error(t, err, "the hostname is taken")

	out = env.MustRun("cluster", "progress", hostname)
	assert.Contains(t, out, "queued")

	out = env.MustRun("cluster", "apply", hostname, "--wait")
	assert.Contains(t, out, hostname+": provisioning_success")

	out = env.MustRun("cluster", "status", hostname)
	assert.Equal(t, "provisioning_success\n", out)

	out = env.MustRun("cluster", "list", "--owner", "alice@example.org")
	assert.Contains(t, out, hostname)
	assert.Contains(t, out, "2030-01-01")

	out = env.MustRun("cluster", "password", hostname)
	assert.Equal(t, "FAKE-PASSWORD\n", out)

	_, err = env.Run("cluster", "apply", hostname)
	assert.Error(t, err, "the plan was consumed")

	out = env.MustRun("cluster", "destroy", hostname)
	assert.Contains(t, out, "destroy plan")

	out = env.MustRun("cluster", "apply", hostname)
	assert.Contains(t, out, hostname+": not_found")

	out = env.MustRun("cluster", "status", hostname)
	assert.Equal(t, "not_found\n", out)
}

// TestDestroyWithoutInfrastructure deletes a planned cluster right away
func TestDestroyWithoutInfrastructure(t *testing.T) {
	env := framework.NewEnv(t)
	file := env.WriteFile("phoenix.yaml", clusterYAML)

	env.MustRun("cluster", "create", "-f", file)
	out := env.MustRun("cluster", "destroy", hostname)
	assert.Contains(t, out, "Deleted "+hostname)

	out = env.MustRun("cluster", "list")
	assert.NotContains(t, out, hostname)
}

// TestServeSettlesProvisioning leaves a cluster provisioning, then lets the
// server bring it to provisioning_success once its endpoints answer
func TestServeSettlesProvisioning(t *testing.T) {
	env := framework.NewEnv(t)
	file := env.WriteFile("phoenix.yaml", clusterYAML)

	env.MustRun("cluster", "create", "-f", file)
	out := env.MustRun("cluster", "apply", hostname)
	assert.Contains(t, out, hostname+": provisioning_running")

	server := env.Serve()
	require.NoError(t, server.WaitForLog("castlehub is running", 10*time.Second))
	require.NoError(t, env.WaitReady(10*time.Second))
	assert.Contains(t, server.Logs(), "Resumed provisioning poll")

	env.Online.Store(true)
	require.NoError(t, server.WaitForLog("provisioning_success", 10*time.Second))

	require.NoError(t, server.Stop())
	out = env.MustRun("cluster", "status", hostname)
	assert.Equal(t, "provisioning_success\n", out)
}
