package models

import (
	"fmt"
	"math"
	"time"
)

// Location is the last known device position.
type Location struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Accuracy  float64  `json:"accuracy"`
	Heading   *float64 `json:"heading,omitempty"`
}

// Validate reports whether the coordinates are inside the WGS84 ranges.
func (l Location) Validate() error {
	if math.IsNaN(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude out of range: %v", l.Latitude)
	}
	if math.IsNaN(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude out of range: %v", l.Longitude)
	}
	if math.IsNaN(l.Accuracy) || l.Accuracy < 0 {
		return fmt.Errorf("accuracy must be non-negative: %v", l.Accuracy)
	}
	return nil
}

// NearbyUser is a peer within the proximity radius, as reported by the server.
type NearbyUser struct {
	UserID        string  `json:"userId"`
	Name          string  `json:"name"`
	PhotoURL      *string `json:"photoUrl,omitempty"`
	Distance      float64 `json:"distance"`
	Direction     string  `json:"direction,omitempty"`
	Bearing       float64 `json:"bearing"`
	Age           *int    `json:"age,omitempty"`
	Profession    *string `json:"profession,omitempty"`
	MaritalStatus *string `json:"maritalStatus,omitempty"`
	Bio           *string `json:"bio,omitempty"`
}

// Reencounter describes a peer the user has crossed paths with before.
type Reencounter struct {
	UserID     string    `json:"userId"`
	Name       string    `json:"name,omitempty"`
	PhotoURL   *string   `json:"photoUrl,omitempty"`
	Count      int       `json:"count"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// UserNearbyEvent is pushed when someone new enters the radius.
type UserNearbyEvent struct {
	UserID   string  `json:"userId"`
	Name     string  `json:"name,omitempty"`
	Distance float64 `json:"distance"`
}

// MaritalStatusLabels maps the server's marital status codes to pt-BR labels.
// NOT_INFORMED maps to an empty label and is not displayed.
var MaritalStatusLabels = map[string]string{
	"SINGLE":          "Solteiro(a)",
	"MARRIED":         "Casado(a)",
	"DIVORCED":        "Divorciado(a)",
	"WIDOWED":         "Viúvo(a)",
	"IN_RELATIONSHIP": "Em um relacionamento",
	"COMPLICATED":     "É complicado",
	"NOT_INFORMED":    "",
}

// MaritalStatusLabel returns the display label for a status code.
func MaritalStatusLabel(status *string) string {
	if status == nil {
		return ""
	}
	return MaritalStatusLabels[*status]
}
