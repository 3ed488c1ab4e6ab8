package models

// FrequencyPoint represents a single swept frequency measurement
type FrequencyPoint struct {
	Frequency float64 `json:"frequency" doc:"Absolute frequency in Hz"`
	Magnitude float64 `json:"magnitude" doc:"Magnitude in volts"`
	Phase     float64 `json:"phase" doc:"Phase in radians"`
}
