package shard

// Keys of the built-in configuration.
const (
	KeyLeftClickEnabled    = "leftClickEnabled"
	KeyRightClickEnabled   = "rightClickEnabled"
	KeyAutoStealEnabled    = "autoStealEnabled"
	KeyAutoStoreEnabled    = "autoStoreEnabled"
	KeyCommandEnabled      = "commandEnabled"
	KeyLeftClickDelay      = "leftClickDelay"
	KeyRightClickDelay     = "rightClickDelay"
	KeyTargetClickDelay    = "targetClickDelay"
	KeyInventoryDelay      = "inventoryDelay"
	KeyCommandDelay        = "commandDelay"
	KeyCommand             = "command"
	KeyEnableAutoLoad      = "enableAutoLoad"
	KeyEnableResetPerRealm = "enableResetPerRealm"
)

var defaults = map[string]string{
	KeyLeftClickEnabled:    "false",
	KeyRightClickEnabled:   "false",
	KeyAutoStealEnabled:    "false",
	KeyAutoStoreEnabled:    "false",
	KeyCommandEnabled:      "false",
	KeyLeftClickDelay:      "200",
	KeyRightClickDelay:     "200",
	KeyTargetClickDelay:    "100",
	KeyInventoryDelay:      "150",
	KeyCommandDelay:        "60000",
	KeyCommand:             "/sell all",
	KeyEnableAutoLoad:      "true",
	KeyEnableResetPerRealm: "true",
}

// Defaults returns a fresh copy of the built-in configuration layer.
func Defaults() map[string]string {
	m := make(map[string]string, len(defaults))
	for k, v := range defaults {
		m[k] = v
	}
	return m
}
