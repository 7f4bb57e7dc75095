package terraform

import (
	"os"
	"testing"

	"github.com/cuemby/castlehub/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadState(t *testing.T) *State {
	t.Helper()
	data, err := os.ReadFile("testdata/terraform.tfstate")
	require.NoError(t, err)
	state, err := ParseState(data)
	require.NoError(t, err)
	return state
}

func TestParseState_Resources(t *testing.T) {
	state := loadState(t)

	assert.Equal(t, types.ResourceSnapshot{
		InstanceCount: 4,
		VCPUs:         10,
		RAM:           15360,
		VolumeCount:   5,
		VolumeSize:    180,
		PublicIPs:     1,
	}, state.Usage())
}

func TestParseState_Secrets(t *testing.T) {
	state := loadState(t)

	assert.Equal(t, "FAKE-PASSWORD", state.AdminPassword())
	assert.Equal(t, "Rocky-8.7-x64", state.Image())
	assert.Equal(t, []string{"206.12.90.10"}, state.FloatingIPs())
}

func TestParseState_PartialConfiguration(t *testing.T) {
	cfg := loadState(t).PartialConfiguration()

	assert.Equal(t, "phoenix", cfg.ClusterName)
	assert.Equal(t, "calculquebec.cloud", cfg.Domain)
	assert.Equal(t, "Rocky-8.7-x64", cfg.Image)
	assert.Equal(t, 10, cfg.NbUsers)
	assert.Equal(t, "password-123", cfg.GuestPasswd)
	assert.Equal(t, map[string]types.InstanceSpec{
		"mgmt":  {Type: "p4-6gb", Count: 1},
		"login": {Type: "p2-3gb", Count: 1},
		"node":  {Type: "p2-3gb", Count: 2},
	}, cfg.Instances)
	assert.Equal(t, []string{"ssh-rsa AAAAB3NzaC1yc2E test@example.org"}, cfg.PublicKeys)
	assert.Equal(t, "phoenix.calculquebec.cloud", cfg.Hostname())
}

func TestParseState_Empty(t *testing.T) {
	inputs := map[string][]byte{
		"nil":          nil,
		"blank":        []byte("  \n"),
		"no resources": []byte(`{"version": 4, "resources": []}`),
		"no instances": []byte(`{"version": 4, "resources": [{"type": "openstack_compute_flavor_v2", "name": "flavors", "instances": []}]}`),
	}

	for name, data := range inputs {
		t.Run(name, func(t *testing.T) {
			state, err := ParseState(data)
			require.NoError(t, err)

			assert.True(t, state.Empty())
			assert.Equal(t, types.ResourceSnapshot{}, state.Usage())
			assert.Empty(t, state.AdminPassword())
			assert.Empty(t, state.Image())
			assert.Empty(t, state.FloatingIPs())
			assert.Empty(t, state.PublicKeys())
			assert.Nil(t, state.Facts())

			cfg := state.PartialConfiguration()
			assert.Empty(t, cfg.ClusterName)
			assert.Empty(t, cfg.Domain)
			assert.Len(t, cfg.Instances, len(types.Categories))
			for _, spec := range cfg.Instances {
				assert.Zero(t, spec.Count)
			}
		})
	}
}

func TestParseState_MissingAttributes(t *testing.T) {
	data := []byte(`{"resources": [
		{"type": "openstack_compute_flavor_v2", "name": "flavors", "instances": [{"attributes": {"id": "f1"}}]},
		{"type": "openstack_compute_instance_v2", "name": "instances", "instances": [{"index_key": "node1", "attributes": {"block_device": [{"boot_index": 0}]}}]},
		{"name": "hieradata", "type": "template_file", "instances": [{"attributes": {}}]}
	]}`)

	state, err := ParseState(data)
	require.NoError(t, err)

	assert.Equal(t, 1, state.InstanceCount())
	assert.Zero(t, state.VCPUs())
	assert.Zero(t, state.RAM())
	assert.Zero(t, state.VolumeCount())
	assert.Empty(t, state.ClusterName())
	assert.Equal(t, types.InstanceSpec{Count: 1}, state.Instances()["node"])
}

func TestParseState_Invalid(t *testing.T) {
	_, err := ParseState([]byte("{not json"))
	assert.Error(t, err)
}

func TestParseState_Facts(t *testing.T) {
	facts := loadState(t).Facts()
	require.NotNil(t, facts)

	assert.Equal(t, 15360, facts.Resources.RAM)
	assert.Equal(t, "FAKE-PASSWORD", facts.AdminPassword)
	assert.Equal(t, "Rocky-8.7-x64", facts.Image)
}
