package terraform

import (
	"testing"

	"github.com/cuemby/castlehub/pkg/types"
	"github.com/stretchr/testify/assert"
)

func change(address string, actions ...types.PlanAction) types.PlanChange {
	return types.PlanChange{Address: address, Type: "test_resource", Actions: actions}
}

func TestTerraformMarkers(t *testing.T) {
	tests := []struct {
		name    string
		actions []types.PlanAction
		log     string
		want    types.Progress
	}{
		{"no-op is done", []types.PlanAction{types.ActionNoOp}, "", types.ProgressDone},
		{"read is done", []types.PlanAction{types.ActionRead}, "", types.ProgressDone},
		{"create queued", []types.PlanAction{types.ActionCreate}, "other.res: Creating...", types.ProgressQueued},
		{"create running", []types.PlanAction{types.ActionCreate}, "r.a: Creating...", types.ProgressRunning},
		{
			"module resource with the same tail",
			[]types.PlanAction{types.ActionCreate},
			"module.openstack.r.a: Creating...\nmodule.openstack.r.a: Creation complete after 1s",
			types.ProgressQueued,
		},
		{
			"marker after other lines",
			[]types.PlanAction{types.ActionCreate},
			"module.openstack.r.a: Creating...\nr.a: Creating...",
			types.ProgressRunning,
		},
		{"create done", []types.PlanAction{types.ActionCreate}, "r.a: Creating...\nr.a: Creation complete after 2s", types.ProgressDone},
		{"update running", []types.PlanAction{types.ActionUpdate}, "r.a: Modifying... [id=1]", types.ProgressRunning},
		{"update done", []types.PlanAction{types.ActionUpdate}, "r.a: Modifications complete after 1s", types.ProgressDone},
		{"delete running", []types.PlanAction{types.ActionDelete}, "r.a: Destroying... [id=1]", types.ProgressRunning},
		{"delete done", []types.PlanAction{types.ActionDelete}, "r.a: Destruction complete after 3s", types.ProgressDone},
		{
			"replace destroying",
			[]types.PlanAction{types.ActionDelete, types.ActionCreate},
			"r.a: Destroying... [id=1]",
			types.ProgressRunning,
		},
		{
			"replace done",
			[]types.PlanAction{types.ActionDelete, types.ActionCreate},
			"r.a: Destroying...\nr.a: Destruction complete after 1s\nr.a: Creating...\nr.a: Creation complete after 9s",
			types.ProgressDone,
		},
		{
			"replace created only",
			[]types.PlanAction{types.ActionDelete, types.ActionCreate},
			"r.a: Creation complete after 9s",
			types.ProgressQueued,
		},
		{
			"create before destroy creating",
			[]types.PlanAction{types.ActionCreate, types.ActionDelete},
			"r.a: Creating...",
			types.ProgressRunning,
		},
		{
			"create before destroy done",
			[]types.PlanAction{types.ActionCreate, types.ActionDelete},
			"r.a: Creating...\nr.a: Creation complete after 4s\nr.a: Destroying...\nr.a: Destruction complete after 1s",
			types.ProgressDone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TerraformMarkers{}.Progress(change("r.a", tt.actions...), tt.log)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLogProgress(t *testing.T) {
	initial := []types.PlanChange{
		change("r.a", types.ActionCreate),
		change("r.b", types.ActionCreate),
		change("r.c", types.ActionRead),
	}
	log := "r.a: Creating...\nr.a: Creation complete after 1s\nr.b: Creating...\n"

	got := LogProgress(initial, log, nil)

	assert.Len(t, got, 3)
	assert.Equal(t, types.ProgressDone, got[0].Progress)
	assert.True(t, got[0].Done)
	assert.Equal(t, types.ProgressRunning, got[1].Progress)
	assert.False(t, got[1].Done)
	assert.Equal(t, types.ProgressDone, got[2].Progress)
}

func TestLogProgress_CustomStrategy(t *testing.T) {
	initial := []types.PlanChange{change("r.a", types.ActionCreate), change("r.b", types.ActionCreate)}
	strategy := MarkerStrategyFunc(func(c types.PlanChange, log string) types.Progress {
		if c.Address == "r.b" {
			return types.ProgressRunning
		}
		return ""
	})

	got := LogProgress(initial, "", strategy)

	assert.Equal(t, types.ProgressQueued, got[0].Progress)
	assert.Equal(t, types.ProgressRunning, got[1].Progress)
}

func TestDiffProgress(t *testing.T) {
	initial := []types.PlanChange{
		change("r.read", types.ActionRead),
		change("r.noop", types.ActionCreate),
		change("r.pending", types.ActionCreate),
		change("r.gone", types.ActionDelete),
	}
	current := []types.PlanChange{
		change("r.pending", types.ActionCreate),
		change("r.noop", types.ActionNoOp),
	}

	got := DiffProgress(initial, current)

	want := map[string]bool{
		"r.read":    true,
		"r.noop":    true,
		"r.pending": false,
		"r.gone":    true,
	}
	assert.Len(t, got, len(initial))
	for i, p := range got {
		assert.Equal(t, initial[i].Address, p.Address, "order follows the initial plan")
		assert.Equal(t, want[p.Address], p.Done, p.Address)
	}
}

func TestProgressDoesNotMutateInitial(t *testing.T) {
	initial := []types.PlanChange{change("r.a", types.ActionCreate)}

	got := DiffProgress(initial, nil)
	got[0].Actions[0] = types.ActionDelete

	logGot := LogProgress(initial, "", nil)
	logGot[0].Actions[0] = types.ActionUpdate

	assert.Equal(t, types.ActionCreate, initial[0].Actions[0])
}
