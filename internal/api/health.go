package api

import "time"

const SchemaVersion = "v1"

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Target        string    `json:"target"`
	TargetHealth  string    `json:"target_health"`
	Backend       string    `json:"backend"`
	Permission    string    `json:"permission"`
}
