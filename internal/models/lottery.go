package models

import "time"

// DrawResult summarises one lottery draw.
type DrawResult struct {
	EventID    string    `json:"eventId"`
	Selected   int       `json:"selected"`
	Waitlisted int       `json:"waitlisted"`
	Forced     bool      `json:"forced"`
	DrawnAt    time.Time `json:"drawnAt"`
}

// Allocation is the outcome of a draw for a single application.
type Allocation struct {
	ApplicationID string            `json:"applicationId"`
	UserID        string            `json:"userId"`
	Status        ApplicationStatus `json:"status"`
	DrawPosition  int               `json:"drawPosition"`
}
