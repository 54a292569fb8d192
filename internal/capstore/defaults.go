package capstore

// DefaultRoleTable regenerates the platform's built-in roles. It is the
// reset target for both the targeted role fix and the nuclear repair path.
func DefaultRoleTable() RoleTable {
	table := RoleTable{
		BaselineRole: {
			Name: "Administrator",
			Capabilities: Grants{
				"read":              true,
				"manage_options":    true,
				"edit_modules":      true,
				"install_modules":   true,
				"activate_modules":  true,
				"edit_themes":       true,
				"list_users":        true,
				"edit_users":        true,
				"create_users":      true,
				"delete_users":      true,
				"upload_files":      true,
				"edit_posts":        true,
				"edit_others_posts": true,
				"publish_posts":     true,
				"delete_posts":      true,
				"manage_categories": true,
				"moderate_comments": true,
				"import":            true,
				"export":            true,
			},
		},
		"editor": {
			Name: "Editor",
			Capabilities: Grants{
				"read":              true,
				"upload_files":      true,
				"edit_posts":        true,
				"edit_others_posts": true,
				"publish_posts":     true,
				"delete_posts":      true,
				"manage_categories": true,
				"moderate_comments": true,
			},
		},
		"shop_manager": {
			Name: "Shop Manager",
			Capabilities: Grants{
				"read":                    true,
				"manage_storefront":       true,
				"view_storefront_reports": true,
				"edit_orders":             true,
				"edit_products":           true,
				"edit_coupons":            true,
			},
		},
		"customer": {
			Name:         "Customer",
			Capabilities: Grants{"read": true},
		},
	}
	table.Normalize()
	return table
}

// EssentialOptions are the global configuration keys the options check
// requires, with the defaults the option fix restores.
func EssentialOptions() map[string]string {
	return map[string]string{
		OptionActiveModules: "[]",
		OptionStylesheet:    "default",
		OptionTemplate:      "default",
	}
}
