package models

import "time"

// ModuleTag identifies which field device owns a channel. The set of modules
// is fixed per deployment; new modules are added here and in the collector
// config, never as branching logic in the cycle.
type ModuleTag string

const (
	ModuleET7017_1 ModuleTag = "et7017_1"
	ModuleET7017_2 ModuleTag = "et7017_2"
	ModuleET7284   ModuleTag = "et7284"
)

// Signal types stored in channel_config.signal_type.
const (
	SignalAnalog420        = "analog_420"
	SignalEncoderCounter   = "encoder_counter"
	SignalEncoderFrequency = "encoder_frequency"
)

// ChannelConfig is one row of the vehicle's channel_config table: a single
// measurement point with its module binding and calibration range. Snapshots
// handed to the acquisition cycle are immutable; a reload builds a fresh slice.
type ChannelConfig struct {
	ChannelID    int
	Name         string
	Unit         string
	Module       ModuleTag
	ChannelIndex int
	SignalType   string
	RawMin       float64
	RawMax       float64
	PhysMin      float64
	PhysMax      float64
	Enabled      bool
	UpdatedAt    time.Time
}

// Reading is the per-cycle result for one channel. Value is nil when the
// device was unreachable or the channel failed to decode or calibrate.
type Reading struct {
	ChannelID int      `json:"channel_id"`
	Value     *float64 `json:"value"`
}
