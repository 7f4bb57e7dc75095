package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cuemby/castlehub/pkg/types"
)

const (
	// DefaultClustersPath is the base directory for cluster workspaces
	DefaultClustersPath = "/var/lib/castlehub/clusters"

	ConfigurationFile = "main.tf.json"
	StateFile         = "terraform.tfstate"
	PlanFile          = "terraform_plan"
	PlanJSONFile      = "terraform_plan.json"
	PlanLog           = "terraform_plan.log"
	ApplyLog          = "terraform_apply.log"
)

// ModuleSource locates the terraform module rendered into main.tf.json
type ModuleSource struct {
	Source          string
	Version         string
	ConfigGitURL    string
	RequiredVersion string
}

// DefaultModuleSource returns the Magic Castle OpenStack module
func DefaultModuleSource() ModuleSource {
	return ModuleSource{
		Source:          "git::https://github.com/ComputeCanada/magic_castle.git",
		Version:         "13.0.0",
		ConfigGitURL:    "https://github.com/ComputeCanada/puppet-magic_castle.git",
		RequiredVersion: ">= 1.4.0",
	}
}

// Root manages the workspace directories of every cluster
type Root struct {
	basePath string
	module   ModuleSource
}

// NewRoot creates the base directory if needed
func NewRoot(basePath string, module ModuleSource) (*Root, error) {
	if basePath == "" {
		basePath = DefaultClustersPath
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create clusters directory: %w", err)
	}

	return &Root{
		basePath: basePath,
		module:   module,
	}, nil
}

// For returns the workspace of a hostname. The directory may not exist.
func (r *Root) For(hostname string) *Workspace {
	return &Workspace{
		dir:    filepath.Join(r.basePath, hostname),
		module: r.module,
	}
}

// Hostnames lists the hostnames that have a workspace directory
func (r *Root) Hostnames() ([]string, error) {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// Workspace is the directory owned by one cluster
type Workspace struct {
	dir    string
	module ModuleSource
}

// Dir returns the workspace path
func (w *Workspace) Dir() string {
	return w.dir
}

// Path returns the path of a file inside the workspace
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.dir, name)
}

// Exists reports whether the workspace directory exists
func (w *Workspace) Exists() bool {
	info, err := os.Stat(w.dir)
	return err == nil && info.IsDir()
}

// Create creates the workspace directory
func (w *Workspace) Create() error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("failed to create workspace directory: %w", err)
	}
	return nil
}

// Delete removes the workspace and everything in it
func (w *Workspace) Delete() error {
	if _, err := os.Stat(w.dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("failed to delete workspace directory: %w", err)
	}

	return nil
}

// WriteConfiguration renders main.tf.json for the configuration
func (w *Workspace) WriteConfiguration(cfg *types.Configuration) error {
	module := map[string]any{
		"source":           fmt.Sprintf("%s//openstack?ref=%s", w.module.Source, w.module.Version),
		"generate_ssh_key": true,
		"config_git_url":   w.module.ConfigGitURL,
		"config_version":   w.module.Version,
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	for k, v := range fields {
		module[k] = v
	}

	doc := map[string]any{
		"terraform": map[string]any{"required_version": w.module.RequiredVersion},
		"module":    map[string]any{"openstack": module},
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", ConfigurationFile, err)
	}
	if err := os.WriteFile(w.Path(ConfigurationFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", ConfigurationFile, err)
	}
	return nil
}

// ReadConfiguration reads the configuration back from main.tf.json
func (w *Workspace) ReadConfiguration() (*types.Configuration, error) {
	data, err := os.ReadFile(w.Path(ConfigurationFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ConfigurationFile, err)
	}
	var doc struct {
		Module struct {
			OpenStack types.Configuration `json:"openstack"`
		} `json:"module"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", ConfigurationFile, err)
	}
	return &doc.Module.OpenStack, nil
}

// ReadState returns the raw terraform state, or nil when there is none
func (w *Workspace) ReadState() ([]byte, error) {
	return w.readOptional(StateFile)
}

// ReadPlanJSON returns the rendered plan, or nil when there is none
func (w *Workspace) ReadPlanJSON() ([]byte, error) {
	return w.readOptional(PlanJSONFile)
}

// WritePlanJSON stores the output of terraform show -json
func (w *Workspace) WritePlanJSON(data []byte) error {
	if err := os.WriteFile(w.Path(PlanJSONFile), data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", PlanJSONFile, err)
	}
	return nil
}

// HasPlan reports whether the binary plan exists
func (w *Workspace) HasPlan() bool {
	_, err := os.Stat(w.Path(PlanFile))
	return err == nil
}

// RemovePlan deletes the binary plan and its JSON rendering
func (w *Workspace) RemovePlan() error {
	for _, name := range []string{PlanFile, PlanJSONFile} {
		if err := os.Remove(w.Path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

// OpenLog rotates the named log and opens a fresh one for writing
func (w *Workspace) OpenLog(name string) (*os.File, error) {
	if err := w.RotateLog(name); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(w.Path(name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return f, nil
}

// ReadLog returns the content of the named log, "" when absent
func (w *Workspace) ReadLog(name string) (string, error) {
	data, err := w.readOptional(name)
	return string(data), err
}

// LogTail returns at most the last n lines of the named log
func (w *Workspace) LogTail(name string, n int) string {
	content, err := w.ReadLog(name)
	if err != nil || content == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// RotateLog shifts name → name.1 → name.2 ..., renaming the highest
// suffix first so no rotated file is overwritten. A missing log is a no-op.
func (w *Workspace) RotateLog(name string) error {
	if _, err := os.Stat(w.Path(name)); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	suffixes, err := w.rotatedSuffixes(name)
	if err != nil {
		return err
	}
	for i := len(suffixes) - 1; i >= 0; i-- {
		from := w.Path(fmt.Sprintf("%s.%d", name, suffixes[i]))
		to := w.Path(fmt.Sprintf("%s.%d", name, suffixes[i]+1))
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to rotate %s: %w", from, err)
		}
	}
	if err := os.Rename(w.Path(name), w.Path(name+".1")); err != nil {
		return fmt.Errorf("failed to rotate %s: %w", name, err)
	}
	return nil
}

// RotatedLogs lists the rotated copies of a log, newest first
func (w *Workspace) RotatedLogs(name string) ([]string, error) {
	suffixes, err := w.rotatedSuffixes(name)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(suffixes))
	for i, s := range suffixes {
		paths[i] = w.Path(fmt.Sprintf("%s.%d", name, s))
	}
	return paths, nil
}

// rotatedSuffixes returns the numeric suffixes in ascending order
func (w *Workspace) rotatedSuffixes(name string) ([]int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace: %w", err)
	}
	re := regexp.MustCompile("^" + regexp.QuoteMeta(name) + `\.(\d+)$`)
	var suffixes []int
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		suffixes = append(suffixes, n)
	}
	sort.Ints(suffixes)
	return suffixes, nil
}

func (w *Workspace) readOptional(name string) ([]byte, error) {
	data, err := os.ReadFile(w.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	return data, nil
}
