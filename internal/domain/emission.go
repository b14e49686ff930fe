package domain

// EmissionFactor converts a quantity of an activity into kg of CO2-equivalent.
type EmissionFactor struct {
	Activity    string  `json:"activity"`
	Unit        string  `json:"unit"`
	KgCO2ePer   float64 `json:"kg_co2e_per_unit"`
	Description string  `json:"description,omitempty"`
}

// Activity is a single line of a calculator form.
type Activity struct {
	Activity string
	Quantity float64
}

// EmissionLine is the estimate for one activity.
type EmissionLine struct {
	Activity string
	Unit     string
	Quantity float64
	Factor   float64
	KgCO2e   float64
}

// EmissionEstimate aggregates the per-activity lines.
type EmissionEstimate struct {
	Lines       []EmissionLine
	TotalKgCO2e float64
}
