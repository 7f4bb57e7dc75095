package terraform

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cuemby/castlehub/pkg/types"
)

// planDocument holds the part of `terraform show -json` output used for
// progress. Every other field of the document is ignored.
type planDocument struct {
	FormatVersion   string           `json:"format_version"`
	ResourceChanges []resourceChange `json:"resource_changes"`
}

type resourceChange struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	Change  struct {
		Actions []types.PlanAction `json:"actions"`
	} `json:"change"`
}

// ParsePlan extracts the resource changes of a plan document, in document
// order. Empty input or a plan without changes yields an empty list.
func ParsePlan(data []byte) ([]types.PlanChange, error) {
	changes := []types.PlanChange{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return changes, nil
	}

	var doc planDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode terraform plan: %w", err)
	}

	for _, rc := range doc.ResourceChanges {
		actions := rc.Change.Actions
		if actions == nil {
			actions = []types.PlanAction{}
		}
		changes = append(changes, types.PlanChange{
			Address: rc.Address,
			Type:    rc.Type,
			Actions: actions,
		})
	}
	return changes, nil
}
