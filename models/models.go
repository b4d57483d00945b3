// Package models defines data structures shared by the watcher packages.
package models

import (
	"fmt"
	"time"
)

// Date is a calendar day extracted from page text.
type Date struct {
	Day   int `json:"day"`
	Month int `json:"month"`
	Year  int `json:"year"`
}

// String renders the date the way the exchange prints it.
func (d Date) String() string {
	return fmt.Sprintf("%d.%d.%d.", d.Day, d.Month, d.Year)
}

// SameDay reports whether d falls on the calendar day of t in t's location.
func (d Date) SameDay(t time.Time) bool {
	y, m, day := t.Date()
	return d.Year == y && d.Month == int(m) && d.Day == day
}

// Price is a numeric value pulled out of loosely formatted text.
type Price struct {
	Raw     string  `json:"raw"`
	Numeric float64 `json:"numeric"`
}

// PriceRecord is the persisted last known price of a ticker.
type PriceRecord struct {
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewsItem is one row of a news listing.
type NewsItem struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Date   Date   `json:"date"`
	Source string `json:"source"`
}

// TrackedSubject is a ticker or news page with its persisted progress markers.
type TrackedSubject struct {
	Identifier      string   `json:"identifier"`
	LastKnownPrice  *float64 `json:"last_known_price,omitempty"`
	LastSeenItemKey string   `json:"last_seen_item_key,omitempty"`
}

// Attachment is a file carried by an outgoing notification.
type Attachment struct {
	Filename string
	Data     []byte
	MimeType string
}

// Message is an outgoing notification.
type Message struct {
	To          []string
	Subject     string
	Text        string
	HTML        string
	Attachments []Attachment
}

// InboundMail is a message picked up by the mailbox watcher.
type InboundMail struct {
	UID       uint32
	MessageID string
	From      string
	Subject   string
	Date      time.Time
}

// RunResult summarises one orchestrator pass.
type RunResult struct {
	StartTime     time.Time
	EndTime       time.Time
	Subjects      int
	Failures      int
	Notifications int
	FailedSubject []string
}
