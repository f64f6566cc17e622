package domain

import "time"

// APIHealthState classifies the result of an API health check
type APIHealthState string

const (
	HealthUnknown     APIHealthState = "unknown"
	HealthOK          APIHealthState = "ok"
	HealthDeprecated  APIHealthState = "deprecated"
	HealthExpired     APIHealthState = "api_version_expired"
	HealthMaintenance APIHealthState = "maintenance"
	HealthError       APIHealthState = "error"
)

// APIHealth is the last observed state of the platform API
type APIHealth struct {
	State         APIHealthState `json:"state"`
	CheckedAt     time.Time      `json:"checked_at"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
	ServerVersion string         `json:"server_version,omitempty"`
	Compatible    bool           `json:"compatible"`
	Error         string         `json:"error,omitempty"`
}
