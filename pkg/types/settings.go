package types

import (
	"fmt"
)

// CurrentSettingsVersion is the current version of the settings struct.
// Increment this value when adding new fields that require default values.
const CurrentSettingsVersion = 3

// Price calculation methods.
const (
	PriceCalcMethodSpot  = "nordpool_spot"
	PriceCalcMethodFixed = "fixed"
	PriceCalcMethodFlow  = "flow"
)

// Settings is the tariff configuration for a device. It is owned by the
// settings layer; the engine only reads it.
type Settings struct {
	// How the utility price is determined: spot formula, fixed formula, or
	// pushed in by an external flow.
	PriceCalcMethod string `json:"priceCalcMethod"`
	// Market price area for spot prices (e.g. NO1).
	PriceArea string `json:"priceArea"`

	// CostFormula computes the utility price per kWh. It may reference the
	// PRICE_NORDPOOL and MONTHLY_HOURS variables.
	CostFormula string `json:"costFormula"`
	// CostFormulaFixedAmount computes the fixed monthly utility amount. It may
	// reference MONTHLY_HOURS.
	CostFormulaFixedAmount string `json:"costFormulaFixedAmount"`

	// Grid tariff regime. The new regime uses time-differentiated energy prices
	// plus capacity tier billing; the old regime uses a flat energy price plus a
	// yearly fixed amount.
	GridNewRegime   bool    `json:"gridNewRegime"`
	GridFixedAmount float64 `json:"gridFixedAmount"` // per year, old regime only
	GridConsumption float64 `json:"gridConsumption"` // per kWh, old regime only

	// Capacity tier prices per month, by average peak consumption band (Wh).
	GridCapacity0_2   float64 `json:"gridCapacity0_2"`
	GridCapacity2_5   float64 `json:"gridCapacity2_5"`
	GridCapacity5_10  float64 `json:"gridCapacity5_10"`
	GridCapacity10_15 float64 `json:"gridCapacity10_15"`
	GridCapacity15_20 float64 `json:"gridCapacity15_20"`
	GridCapacity20_25 float64 `json:"gridCapacity20_25"`
	// How many of the highest daily peaks are averaged for the capacity metric.
	GridCapacityAverage int `json:"gridCapacityAverage"`

	// Time-differentiated energy prices, new regime.
	GridEnergyDay         float64 `json:"gridEnergyDay"`
	GridEnergyNight       float64 `json:"gridEnergyNight"`
	GridEnergyDaySummer   float64 `json:"gridEnergyDaySummer"`
	GridEnergyNightSummer float64 `json:"gridEnergyNightSummer"`
	// Months are 1-12. Summer prices apply from SummerStart up to WinterStart in
	// the wrap-around sense.
	GridEnergyWinterStart int  `json:"gridEnergyWinterStart"`
	GridEnergySummerStart int  `json:"gridEnergySummerStart"`
	GridEnergyLowWeekends bool `json:"gridEnergyLowWeekends"`

	// Optional grid company preset id, applied by the settings layer.
	GridCompany string `json:"gridCompany,omitempty"`

	PriceDecimals    int  `json:"priceDecimals"`
	ResetEnergyDaily bool `json:"resetEnergyDaily"`
}

// MigrateSettings migrates the settings to the current version.
// It returns the migrated settings, a boolean indicating if changes were made,
// and an error if migration failed.
func MigrateSettings(s Settings, currentVersion int) (Settings, bool, error) {
	if currentVersion >= CurrentSettingsVersion {
		return s, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentSettingsVersion; version++ {
		switch version {
		case 1:
			// version 1: initial defaults
			if s.PriceCalcMethod == "" {
				s.PriceCalcMethod = PriceCalcMethodSpot
				migrated = true
			}
			if s.CostFormula == "" {
				s.CostFormula = "PRICE_NORDPOOL"
				migrated = true
			}
			if s.CostFormulaFixedAmount == "" {
				s.CostFormulaFixedAmount = "0"
				migrated = true
			}
			if s.PriceDecimals == 0 {
				s.PriceDecimals = 2
				migrated = true
			}
		case 2:
			// version 2: add capacity averaging and season boundaries
			if s.GridCapacityAverage == 0 {
				s.GridCapacityAverage = 3
				migrated = true
			}
			if s.GridEnergySummerStart == 0 {
				s.GridEnergySummerStart = 4
				migrated = true
			}
			if s.GridEnergyWinterStart == 0 {
				s.GridEnergyWinterStart = 11
				migrated = true
			}
		case 3:
			// version 3: summer prices default to the winter prices so enabling
			// the seasonal split never zeroes the tariff
			if s.GridEnergyDaySummer == 0 {
				s.GridEnergyDaySummer = s.GridEnergyDay
				migrated = true
			}
			if s.GridEnergyNightSummer == 0 {
				s.GridEnergyNightSummer = s.GridEnergyNight
				migrated = true
			}
		default:
			return s, false, fmt.Errorf("unknown settings version: %d", version)
		}
	}

	return s, migrated, nil
}
