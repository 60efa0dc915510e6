package models

// VariantSpec declares the resource profile of one detection model.
type VariantSpec struct {
	Name              Variant `yaml:"name"`
	PowerWatts        float64 `yaml:"power_watts"`
	MaxCPUPercent     float64 `yaml:"max_cpu_percent"`
	MinBatteryPercent int     `yaml:"min_battery_percent"`
	PriorConfidence   float64 `yaml:"prior_confidence"`
}

// Feasible reports whether the sample satisfies the variant's thresholds.
func (v VariantSpec) Feasible(s TelemetrySample) bool {
	return s.BatteryPercent >= v.MinBatteryPercent && s.CPUPercent <= v.MaxCPUPercent
}

// Catalog is the fixed, ordered set of known variants.
type Catalog []VariantSpec

// DefaultCatalog returns the four TFLite detectors shipped with the app,
// ordered from the most to the least expensive.
func DefaultCatalog() Catalog {
	return Catalog{
		{Name: "efficientdet-lite2", PowerWatts: 3.0, MaxCPUPercent: 70, MinBatteryPercent: 40, PriorConfidence: 0.60},
		{Name: "efficientdet-lite1", PowerWatts: 2.2, MaxCPUPercent: 80, MinBatteryPercent: 20, PriorConfidence: 0.50},
		{Name: "efficientdet-lite0", PowerWatts: 1.5, MaxCPUPercent: 90, MinBatteryPercent: 15, PriorConfidence: 0.40},
		{Name: "mobilenet-v1", PowerWatts: 1.0, MaxCPUPercent: 100, MinBatteryPercent: 5, PriorConfidence: 0.30},
	}
}

// Names returns the variant identifiers in catalog order.
func (c Catalog) Names() []Variant {
	names := make([]Variant, len(c))
	for i, v := range c {
		names[i] = v.Name
	}
	return names
}

// Lookup returns the entry for name.
func (c Catalog) Lookup(name Variant) (VariantSpec, bool) {
	for _, v := range c {
		if v.Name == name {
			return v, true
		}
	}
	return VariantSpec{}, false
}

// Cheapest returns the variant with the lowest power draw. Ties go to the
// later catalog entry, so an explicitly listed low-cost model wins.
func (c Catalog) Cheapest() VariantSpec {
	var best VariantSpec
	for i, v := range c {
		if i == 0 || v.PowerWatts <= best.PowerWatts {
			best = v
		}
	}
	return best
}
