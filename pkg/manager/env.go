package manager

import (
	"os"
	"sort"

	"github.com/cuemby/castlehub/pkg/types"
	"github.com/samber/lo"
)

// DNSConfig maps domains to the DNS provider managing their records
type DNSConfig struct {
	// Domains maps each offered domain to a provider name, "" for none
	Domains map[string]string

	// Providers maps a provider name to the environment terraform needs
	Providers map[string]map[string]string
}

// AvailableDomains lists the offered domains in order. No domains
// configured means any domain is accepted.
func (d DNSConfig) AvailableDomains() []string {
	domains := lo.Keys(d.Domains)
	sort.Strings(domains)
	return domains
}

// Environment returns the variables of the provider managing domain
func (d DNSConfig) Environment(domain string) map[string]string {
	provider, ok := d.Domains[domain]
	if !ok || provider == "" {
		return nil
	}
	return d.Providers[provider]
}

// terraformEnv is the process environment plus the cloud selection, the
// DNS provider credentials and, for destroy applies, the flag that keeps
// output errors from failing the run
func (m *Manager) terraformEnv(c *types.Cluster, destroyApply bool) []string {
	env := os.Environ()
	if c.CloudID != "" {
		env = append(env, "OS_CLOUD="+c.CloudID)
	}

	domain := ""
	if c.Configuration != nil {
		domain = c.Configuration.Domain
	}
	vars := m.dns.Environment(domain)
	keys := lo.Keys(vars)
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}

	if destroyApply {
		env = append(env, "TF_WARN_OUTPUT_ERRORS=1")
	}
	return env
}
