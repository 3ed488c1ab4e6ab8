package models

import (
	"time"
)

// Run statuses
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// SpectroscopyRun represents one resonator spectroscopy measurement
type SpectroscopyRun struct {
	ID            string     `json:"id" doc:"Run unique identifier"`
	Status        string     `json:"status" enum:"pending,running,completed,failed" doc:"Run status"`
	Progress      int        `json:"progress" minimum:"0" maximum:"100" doc:"Run progress percentage"`
	Simulated     bool       `json:"simulated" doc:"Whether the loopback simulator produced the data"`
	NAvg          int        `json:"n_avg" doc:"Averaging repetitions"`
	DepletionTime int        `json:"depletion_time" doc:"Wait between measurements in ns"`
	SweepStart    float64    `json:"sweep_start" doc:"First frequency offset in Hz"`
	SweepStop     float64    `json:"sweep_stop" doc:"Exclusive upper offset bound in Hz"`
	SweepStep     float64    `json:"sweep_step" doc:"Offset step in Hz"`
	ArchiveKey    *string    `json:"archive_key,omitempty" doc:"Object key of the archived raw traces"`
	StateSaved    bool       `json:"state_saved" doc:"Whether fitted resonances were written back"`
	ErrorMsg      *string    `json:"error_message,omitempty" doc:"Failure reason"`
	CreatedAt     time.Time  `json:"created_at" doc:"Run creation timestamp"`
	UpdatedAt     time.Time  `json:"updated_at" doc:"Last update timestamp"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" doc:"Completion timestamp"`
}

// ChannelResult represents the processed trace of one resonator in a run
type ChannelResult struct {
	ID                    string           `json:"id" doc:"Channel result identifier"`
	RunID                 string           `json:"run_id" doc:"Associated run ID"`
	Element               string           `json:"element" doc:"Resonator element name"`
	ReadoutPulseLength    int              `json:"readout_pulse_length" doc:"Readout duration in ns"`
	IntermediateFrequency float64          `json:"intermediate_frequency" doc:"IF at zero offset in Hz"`
	ResonanceBefore       float64          `json:"resonance_before" doc:"Resonance estimate used for the sweep in Hz"`
	FrequencyData         []FrequencyPoint `json:"frequency_data" doc:"Swept frequency response"`
	FitFrequency          *float64         `json:"fit_frequency,omitempty" doc:"Fitted resonance in Hz"`
	FitLinewidth          *float64         `json:"fit_linewidth,omitempty" doc:"Fitted linewidth in Hz"`
	FitReason             *string          `json:"fit_reason,omitempty" doc:"Why the fit produced no result"`
	Applied               bool             `json:"applied" doc:"Whether the fit updated the stored resonance"`
	CreatedAt             time.Time        `json:"created_at" doc:"Result creation timestamp"`
}

// RunResults bundles a run with its channel results
type RunResults struct {
	Run      *SpectroscopyRun `json:"run"`
	Channels []*ChannelResult `json:"channels"`
}
