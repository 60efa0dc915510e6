package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vitalis-app/selector/internal/errors"
)

// DefaultPowerSupplyRoot is where Linux and Android expose battery state.
const DefaultPowerSupplyRoot = "/sys/class/power_supply"

// SysfsPlatform reads battery state from a power_supply class directory.
type SysfsPlatform struct {
	root   string
	supply string
}

// NewSysfs creates a platform reading from root. If supply is empty the
// first entry whose type is "Battery" is used.
func NewSysfs(root, supply string) *SysfsPlatform {
	return &SysfsPlatform{root: root, supply: supply}
}

// Name returns the platform identifier.
func (p *SysfsPlatform) Name() string { return "linux" }

// BatteryPercent reads the capacity attribute.
func (p *SysfsPlatform) BatteryPercent() (int, error) {
	dir, err := p.batteryDir()
	if err != nil {
		return 0, err
	}
	v, err := readInt(filepath.Join(dir, "capacity"))
	if err != nil {
		return 0, errors.Wrap(err, "reading battery capacity")
	}
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return int(v), nil
}

// PowerDrawWatts reads power_now, or current_now × voltage_now when the
// driver does not export power directly. Values are in micro-units.
func (p *SysfsPlatform) PowerDrawWatts() (float64, error) {
	dir, err := p.batteryDir()
	if err != nil {
		return 0, err
	}
	if uw, err := readInt(filepath.Join(dir, "power_now")); err == nil {
		return abs(float64(uw)) / 1e6, nil
	}

	ua, err := readInt(filepath.Join(dir, "current_now"))
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "reading battery current"), ErrUnavailable)
	}
	uv, err := readInt(filepath.Join(dir, "voltage_now"))
	if err != nil {
		return 0, errors.Mark(errors.Wrap(err, "reading battery voltage"), ErrUnavailable)
	}
	// Some drivers report discharge as a negative current.
	return abs(float64(ua)) * abs(float64(uv)) / 1e12, nil
}

// batteryDir resolves the supply directory.
func (p *SysfsPlatform) batteryDir() (string, error) {
	if p.supply != "" {
		return filepath.Join(p.root, p.supply), nil
	}

	entries, err := os.ReadDir(p.root)
	if err != nil {
		return "", errors.Mark(errors.Wrap(err, "listing power supplies"), ErrUnavailable)
	}
	for _, e := range entries {
		kind, err := os.ReadFile(filepath.Join(p.root, e.Name(), "type"))
		if err != nil {
			continue
		}
		if strings.TrimSpace(string(kind)) == "Battery" {
			return filepath.Join(p.root, e.Name()), nil
		}
	}
	return "", ErrUnavailable
}

func readInt(path string) (int64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
