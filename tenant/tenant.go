// Package tenant describes the tenants the provisioner knows about: the main
// site and the numbered client sites.
package tenant

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	mainName     = "main"
	clientPrefix = "client"

	// DefaultBaseDomain is the public domain of the main site.
	DefaultBaseDomain = "arcweb.com.au"
	// DefaultContainerPrefix prefixes every tenant container name.
	DefaultContainerPrefix = "arcweb"
)

var (
	identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)
	clientPattern     = regexp.MustCompile(`^client([1-9][0-9]*)$`)
)

// Kind separates the main site from client sites.
type Kind int

const (
	KindMain Kind = iota
	KindClient
)

func (k Kind) String() string {
	switch k {
	case KindMain:
		return "main"
	case KindClient:
		return "client"
	default:
		return "unknown"
	}
}

// Spec identifies one tenant to provision.
type Spec struct {
	Kind Kind
	// ID is set for clients only.
	ID int
}

// Main returns the spec of the main site.
func Main() Spec {
	return Spec{Kind: KindMain}
}

// Client returns the spec of client id.
func Client(id int) Spec {
	return Spec{Kind: KindClient, ID: id}
}

// Name is the database name and container suffix of the tenant.
func (s Spec) Name() string {
	if s.Kind == KindMain {
		return mainName
	}
	return clientPrefix + strconv.Itoa(s.ID)
}

func (s Spec) String() string {
	return s.Name()
}

// Validate reports whether the spec can be used in SQL and container names.
func (s Spec) Validate() error {
	switch s.Kind {
	case KindMain:
		return nil
	case KindClient:
		if s.ID <= 0 {
			return &InvalidNameError{Name: s.Name(), Reason: "client id must be positive"}
		}
		return ValidateIdentifier(s.Name())
	default:
		return &InvalidNameError{Name: s.Name(), Reason: "unknown tenant kind"}
	}
}

// ContainerName returns the name of the container that runs the tenant.
func (s Spec) ContainerName(prefix string) string {
	if prefix == "" {
		prefix = DefaultContainerPrefix
	}
	return prefix + "_" + s.Name()
}

// Domain returns the public base URL host stamped into the tenant.
func (s Spec) Domain(base string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		base = DefaultBaseDomain
	}
	if s.Kind == KindMain {
		return base
	}
	return s.Name() + "." + base
}

// ParseName turns a tenant name from the command line into a Spec.
// Only "main" and canonical "client<N>" names (N >= 1, no leading zeros) are
// accepted, so Name() always returns the input unchanged.
func ParseName(name string) (Spec, error) {
	if name == mainName {
		return Main(), nil
	}
	m := clientPattern.FindStringSubmatch(name)
	if m == nil {
		return Spec{}, &InvalidNameError{Name: name, Reason: `expected "main" or "client<N>"`}
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return Spec{}, &InvalidNameError{Name: name, Reason: fmt.Sprintf("client id: %v", err)}
	}
	spec := Client(id)
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ValidateIdentifier checks s against the allow-list used for every name that
// ends up unparameterized in SQL or in a container name.
func ValidateIdentifier(s string) error {
	if !identifierPattern.MatchString(s) {
		return &InvalidNameError{Name: s, Reason: "must match " + identifierPattern.String()}
	}
	return nil
}

// InvalidNameError is returned for tenant names and identifiers that fail
// validation.
type InvalidNameError struct {
	Name   string
	Reason string
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid tenant name %q: %s", e.Name, e.Reason)
}
