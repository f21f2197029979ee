package tariff

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/BurntSushi/toml"
	"github.com/utilitycost/utilitycost/pkg/types"
)

//go:embed presets.toml
var presetsTOML string

// Preset is a grid company's published tariff for the time-differentiated
// regime.
type Preset struct {
	Description           string  `toml:"description" json:"description"`
	NewRegimeStart        string  `toml:"new_regime_start" json:"newRegimeStart"`
	GridCapacity0_2       float64 `toml:"grid_capacity_0_2" json:"gridCapacity0_2"`
	GridCapacity2_5       float64 `toml:"grid_capacity_2_5" json:"gridCapacity2_5"`
	GridCapacity5_10      float64 `toml:"grid_capacity_5_10" json:"gridCapacity5_10"`
	GridCapacity10_15     float64 `toml:"grid_capacity_10_15" json:"gridCapacity10_15"`
	GridCapacity15_20     float64 `toml:"grid_capacity_15_20" json:"gridCapacity15_20"`
	GridCapacity20_25     float64 `toml:"grid_capacity_20_25" json:"gridCapacity20_25"`
	GridCapacityAverage   int     `toml:"grid_capacity_average" json:"gridCapacityAverage"`
	GridEnergyDay         float64 `toml:"grid_energy_day" json:"gridEnergyDay"`
	GridEnergyNight       float64 `toml:"grid_energy_night" json:"gridEnergyNight"`
	GridEnergyLowWeekends bool    `toml:"grid_energy_low_weekends" json:"gridEnergyLowWeekends"`
}

var presets = func() map[string]Preset {
	m := map[string]Preset{}
	if _, err := toml.Decode(presetsTOML, &m); err != nil {
		panic(fmt.Errorf("failed to decode embedded tariff presets: %w", err))
	}
	return m
}()

// LookupPreset returns the preset for the given grid company id.
func LookupPreset(id string) (Preset, bool) {
	p, ok := presets[id]
	return p, ok
}

// PresetIDs returns the known grid company ids, sorted.
func PresetIDs() []string {
	ids := make([]string, 0, len(presets))
	for id := range presets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Apply copies the preset's tariff values onto the settings and enables the
// time-differentiated regime.
func (p Preset) Apply(s types.Settings) types.Settings {
	s.GridNewRegime = true
	s.GridCapacity0_2 = p.GridCapacity0_2
	s.GridCapacity2_5 = p.GridCapacity2_5
	s.GridCapacity5_10 = p.GridCapacity5_10
	s.GridCapacity10_15 = p.GridCapacity10_15
	s.GridCapacity15_20 = p.GridCapacity15_20
	s.GridCapacity20_25 = p.GridCapacity20_25
	s.GridCapacityAverage = p.GridCapacityAverage
	s.GridEnergyDay = p.GridEnergyDay
	s.GridEnergyNight = p.GridEnergyNight
	s.GridEnergyLowWeekends = p.GridEnergyLowWeekends
	return s
}
