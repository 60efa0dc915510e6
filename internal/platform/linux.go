//go:build linux

package platform

// New creates a sysfs-backed platform. supply selects a specific
// power_supply entry; empty means auto-detect.
func New(supply string) Platform {
	return NewSysfs(DefaultPowerSupplyRoot, supply)
}
