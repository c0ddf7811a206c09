package tenant

import "strings"

var (
	baseModules   = []string{"web", "website", "website_sale"}
	sharedModules = []string{"arcweb_base", "arcweb_ecommerce", "theme_arcweb"}

	clientModuleSuffixes = []string{"_custom", "_website"}
)

// Modules returns the ordered module set installed for the tenant.
func (s Spec) Modules() []string {
	mods := make([]string, 0, len(baseModules)+len(sharedModules)+len(clientModuleSuffixes))
	mods = append(mods, baseModules...)
	if s.Kind != KindClient {
		return mods
	}
	mods = append(mods, sharedModules...)
	for _, suffix := range clientModuleSuffixes {
		mods = append(mods, s.Name()+suffix)
	}
	return mods
}

// JoinModules formats a module set for the platform's -i flag.
func JoinModules(mods []string) string {
	return strings.Join(mods, ",")
}
