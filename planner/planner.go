// Package planner turns command-line intent into the ordered list of tenants
// to provision.
package planner

import (
	"strings"

	"github.com/arcweb/provisioner/tenant"
)

// ClientCount is the size of the numbered client catalog.
const ClientCount = 10

// Flags mirrors the tenant selection flags of the command line.
type Flags struct {
	InitMain   bool
	Client     string
	AllClients bool
}

// Empty reports whether no tenant was requested.
func (f Flags) Empty() bool {
	return !f.InitMain && strings.TrimSpace(f.Client) == "" && !f.AllClients
}

// Plan returns the tenants to provision in run order: main, then the named
// client, then client1..clientN. Duplicates are kept.
func Plan(f Flags) ([]tenant.Spec, error) {
	var specs []tenant.Spec

	if f.InitMain {
		specs = append(specs, tenant.Main())
	}

	if name := strings.TrimSpace(f.Client); name != "" {
		spec, err := tenant.ParseName(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}

	if f.AllClients {
		for i := 1; i <= ClientCount; i++ {
			specs = append(specs, tenant.Client(i))
		}
	}

	return specs, nil
}

// Names returns the tenant names of specs, in order.
func Names(specs []tenant.Spec) []string {
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		names = append(names, s.Name())
	}
	return names
}
