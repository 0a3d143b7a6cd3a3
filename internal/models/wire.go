package models

// Wire payloads of the vehicle outbound API, shared by the outbound handlers
// and the fleet-side puller. All timestamps are UTC ISO-8601 strings with
// millisecond precision and a literal Z suffix (see timeformat.go).

// StatusPayload is the GET /status response.
type StatusPayload struct {
	VehicleIDHint     string  `json:"vehicle_id_hint"`
	SoftwareVersion   string  `json:"software_version"`
	UptimeSec         int64   `json:"uptime_sec"`
	CollectorRunning  bool    `json:"collector_running"`
	AgentRunning      bool    `json:"agent_running"`
	DBOk              bool    `json:"db_ok"`
	LastMeasurementAt *string `json:"last_measurement_at"`
}

// ChannelPayload is one element of the GET /channels response.
type ChannelPayload struct {
	ChannelID  int     `json:"channel_id"`
	Name       string  `json:"name"`
	Unit       string  `json:"unit"`
	RawMin     float64 `json:"raw_min"`
	RawMax     float64 `json:"raw_max"`
	PhysMin    float64 `json:"phys_min"`
	PhysMax    float64 `json:"phys_max"`
	SignalType string  `json:"signal_type"`
	Enabled    bool    `json:"enabled"`
	UpdatedAt  string  `json:"updated_at"`
}

// DataRow is one measurement row in the GET /data response.
type DataRow struct {
	ChannelID int      `json:"channel_id"`
	Value     *float64 `json:"value"`
	Time      string   `json:"time"`
}

// DataPayload is the GET /data response envelope. Truncated is set when the
// window held more rows than the server-side cap; the puller reacts by
// splitting the window, never by guessing row counts.
type DataPayload struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Count     int       `json:"count"`
	Truncated bool      `json:"truncated"`
	Rows      []DataRow `json:"rows"`
}

// AlarmPayload is one element of the GET /alarms response.
type AlarmPayload struct {
	AlarmID     int64   `json:"alarm_id"`
	ChannelID   *int    `json:"channel_id"`
	Severity    *string `json:"severity"`
	Message     string  `json:"message"`
	TriggeredAt string  `json:"triggered_at"`
	ResolvedAt  *string `json:"resolved_at"`
}

// CyclePayload is the publication bus message body, also cached in Redis as
// the latest cycle.
type CyclePayload struct {
	CycleTime string    `json:"cycle_time"`
	Readings  []Reading `json:"readings"`
}
