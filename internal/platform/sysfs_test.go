package platform

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalis-app/selector/internal/errors"
)

func writeSupply(t *testing.T, root, name string, attrs map[string]string) {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	for k, v := range attrs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, k), []byte(v+"\n"), 0644))
	}
}

func TestSysfs_AutoDetectsBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains"})
	writeSupply(t, root, "BAT0", map[string]string{
		"type":      "Battery",
		"capacity":  "76",
		"power_now": "4200000",
	})

	p := NewSysfs(root, "")
	pct, err := p.BatteryPercent()
	require.NoError(t, err)
	assert.Equal(t, 76, pct)

	watts, err := p.PowerDrawWatts()
	require.NoError(t, err)
	assert.InDelta(t, 4.2, watts, 1e-9)
}

func TestSysfs_PowerFromCurrentAndVoltage(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "battery", map[string]string{
		"type":        "Battery",
		"capacity":    "50",
		"current_now": "-500000",
		"voltage_now": "4000000",
	})

	watts, err := NewSysfs(root, "battery").PowerDrawWatts()
	require.NoError(t, err)
	assert.InDelta(t, 2.0, watts, 1e-9)
}

func TestSysfs_ClampsCapacity(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "BAT1", map[string]string{"type": "Battery", "capacity": "104"})

	pct, err := NewSysfs(root, "").BatteryPercent()
	require.NoError(t, err)
	assert.Equal(t, 100, pct)
}

func TestSysfs_NoBattery(t *testing.T) {
	root := t.TempDir()
	writeSupply(t, root, "AC", map[string]string{"type": "Mains"})

	_, err := NewSysfs(root, "").BatteryPercent()
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = NewSysfs(filepath.Join(root, "missing"), "").PowerDrawWatts()
	assert.True(t, errors.Is(err, ErrUnavailable))
}
