package models

import (
	"fmt"
	"time"
)

type OperatingHours struct {
	Opening string `json:"opening"`
	Closing string `json:"closing"`
}

type Clinic struct {
	ClinicID           string         `json:"clinic_id"`
	Name               string         `json:"name"`
	Email              string         `json:"email"`
	PasswordHash       string         `json:"-"`
	Phone              string         `json:"phone,omitempty"`
	Address            string         `json:"address,omitempty"`
	Services           []string       `json:"services,omitempty"`
	OperatingHours     OperatingHours `json:"operating_hours"`
	AverageProcessTime int            `json:"average_process_time"`
	MaxActiveQueues    int            `json:"max_active_queues"`
	IsOpen             bool           `json:"is_open"`
	LastStatusChange   time.Time      `json:"last_status_change"`
	CreatedAt          time.Time      `json:"created_at"`
}

const (
	DefaultOpening            = "09:00"
	DefaultClosing            = "17:00"
	DefaultAverageProcessTime = 15
	DefaultMaxActiveQueues    = 50
)

// ParseClock parses an "HH:MM" time of day into minutes after midnight.
func ParseClock(value string) (int, error) {
	var hours, minutes int
	if _, err := fmt.Sscanf(value, "%d:%d", &hours, &minutes); err != nil {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("invalid time of day %q", value)
	}
	return hours*60 + minutes, nil
}

func (h OperatingHours) Validate() error {
	opening, err := ParseClock(h.Opening)
	if err != nil {
		return err
	}
	closing, err := ParseClock(h.Closing)
	if err != nil {
		return err
	}
	if closing <= opening {
		return fmt.Errorf("closing time must be after opening time")
	}
	return nil
}

// Contains reports whether t, read in its own location, falls inside [opening, closing).
// Malformed hours never contain anything.
func (h OperatingHours) Contains(t time.Time) bool {
	opening, err := ParseClock(h.Opening)
	if err != nil {
		return false
	}
	closing, err := ParseClock(h.Closing)
	if err != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	return minute >= opening && minute < closing
}

type ClinicStatus struct {
	IsOpen         bool            `json:"is_open"`
	OperatingHours *OperatingHours `json:"operating_hours,omitempty"`
}
