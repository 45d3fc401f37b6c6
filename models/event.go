package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is one sellable party/show.
type Event struct {
	ID         string                     `json:"id"` // pocketbase record id
	Code       string                     `json:"code"` // organizer code, e.g. SARALINA2025
	Slug       string                     `json:"slug"` // serial suffix, e.g. SARALINA
	Name       string                     `json:"name"`
	Categories map[string]decimal.Decimal `json:"categories"` // category name -> unit price
	Status     string                     `json:"status"` // draft, published, ended
	StartsAt   time.Time                  `json:"starts_at"`
}

// CategoryNames lists the configured ticket categories.
func (e *Event) CategoryNames() []string {
	names := make([]string, 0, len(e.Categories))
	for name := range e.Categories {
		names = append(names, name)
	}
	return names
}

// HasCategory reports whether the event sells the given category.
func (e *Event) HasCategory(category string) bool {
	_, ok := e.Categories[category]
	return ok
}
