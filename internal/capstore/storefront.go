package capstore

// StorefrontModule is the slug of the dependent commerce subsystem whose
// capabilities this engine manages.
const StorefrontModule = "storefront"

// MenuGateCap is the single capability gating the storefront admin menu
// entry.
const MenuGateCap = "edit_others_orders"

// StorefrontCoreHooks are the extension points a healthy storefront module
// registers. Their absence means a broken install rather than a
// deactivated one.
var StorefrontCoreHooks = []string{
	"storefront.admin_menu",
	"storefront.capabilities",
	"storefront.install",
}

// EssentialAdminCaps is the fixed list the baseline role must carry for
// the roles check to pass.
var EssentialAdminCaps = []string{
	"manage_options",
	"manage_storefront",
	"view_storefront_reports",
	"edit_orders",
	"edit_products",
}

// AdminGrantCaps is the fixed list the role-capability fix grants. It is a
// superset of EssentialAdminCaps; the fix never revokes anything.
var AdminGrantCaps = []string{
	"manage_options",
	"manage_storefront",
	"view_storefront_reports",
	"edit_orders",
	"edit_products",
	"manage_product_terms",
	"edit_coupons",
	"edit_others_orders",
}

// StorefrontUserCaps is the set the operating user is checked against.
var StorefrontUserCaps = []string{
	"manage_storefront",
	"view_storefront_reports",
	"edit_orders",
	"edit_products",
	"manage_product_terms",
	"edit_coupons",
}

// StorefrontUserGrantCaps is what the user-capability fix grants directly
// to the operating user so the repair works without re-login or role
// propagation.
var StorefrontUserGrantCaps = []string{
	"manage_storefront",
	"view_storefront_reports",
	"edit_orders",
	"edit_products",
	"manage_product_terms",
	"edit_coupons",
	"edit_others_orders",
}

// StorefrontContentTypes are the managed content types that carry the full
// CRUD and term capability template.
var StorefrontContentTypes = []string{"product", "order", "coupon"}

// StorefrontCoreCaps are the storefront management capabilities outside
// any content-type template.
var StorefrontCoreCaps = []string{
	"manage_storefront",
	"create_customers",
	"view_storefront_reports",
}

// StorefrontCapabilities flattens the full storefront capability set: the
// core management capabilities plus the CRUD/terms template for every
// managed content type. Nuclear repair re-grants exactly this set onto the
// baseline role.
func StorefrontCapabilities() []string {
	caps := make([]string, 0, len(StorefrontCoreCaps)+17*len(StorefrontContentTypes))
	caps = append(caps, StorefrontCoreCaps...)
	for _, ct := range StorefrontContentTypes {
		caps = append(caps, contentTypeCapabilities(ct)...)
	}
	return caps
}

func contentTypeCapabilities(ct string) []string {
	return []string{
		"edit_" + ct,
		"read_" + ct,
		"delete_" + ct,
		"edit_" + ct + "s",
		"edit_others_" + ct + "s",
		"publish_" + ct + "s",
		"read_private_" + ct + "s",
		"delete_" + ct + "s",
		"delete_private_" + ct + "s",
		"delete_published_" + ct + "s",
		"delete_others_" + ct + "s",
		"edit_private_" + ct + "s",
		"edit_published_" + ct + "s",
		"manage_" + ct + "_terms",
		"edit_" + ct + "_terms",
		"delete_" + ct + "_terms",
		"assign_" + ct + "_terms",
	}
}

// EmergencyGrantList is the record an emergency account receives: the
// baseline role plus the full fixed capability list granted individually,
// so the account keeps working even if the role table is corrupted again
// afterwards.
func EmergencyGrantList() Grants {
	grants := Grants{
		BaselineRole:          true,
		"read":                true,
		"manage_options":      true,
		"upload_files":        true,
		"edit_posts":          true,
		"edit_others_posts":   true,
		"publish_posts":       true,
		"delete_posts":        true,
		"delete_others_posts": true,
		"manage_categories":   true,
		"moderate_comments":   true,
		"activate_modules":    true,
		"edit_modules":        true,
		"install_modules":     true,
		"edit_themes":         true,
		"install_themes":      true,
		"update_modules":      true,
		"update_core":         true,
		"list_users":          true,
		"edit_users":          true,
		"create_users":        true,
		"delete_users":        true,
		"import":              true,
		"export":              true,
	}
	for _, cap := range StorefrontCapabilities() {
		grants[cap] = true
	}
	for _, cap := range AdminGrantCaps {
		grants[cap] = true
	}
	return grants
}
