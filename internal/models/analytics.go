package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventAnalytics is the read-only rollup for one event.
type EventAnalytics struct {
	EventID           string          `json:"eventId"`
	Applicants        int             `json:"applicants"`
	Selected          int             `json:"selected"`
	Waitlisted        int             `json:"waitlisted"`
	Paid              int             `json:"paid"`
	Rejected          int             `json:"rejected"`
	Minted            int             `json:"minted"`
	CheckedIn         int             `json:"checkedIn"`
	Certificates      int             `json:"certificates"`
	Revenue           decimal.Decimal `json:"revenue"`
	PaymentPercentage float64         `json:"paymentPercentage"`
	NoShowRate        float64         `json:"noShowRate"`
	DailyRevenue      []DailyRevenue  `json:"dailyRevenue"`
	GeneratedAt       time.Time       `json:"generatedAt"`
}

// DailyRevenue is the completed-payment total for one calendar day (UTC).
type DailyRevenue struct {
	Date     string          `json:"date"`
	Revenue  decimal.Decimal `json:"revenue"`
	Payments int             `json:"payments"`
}
