// Package processor groups fetched records by their own calendar date.
package processor

import (
	"adxsync/models"
)

// Partitioned maps each date to the records carrying it. Dates keep the order
// in which they were first seen and records keep their input order within a
// date.
type Partitioned struct {
	dates   []string
	groups  map[string][]models.Record
	skipped int
}

// Partition groups records by their date field. Records without a date are
// counted in Skipped and otherwise ignored.
func Partition(records []models.Record) *Partitioned {
	p := &Partitioned{groups: make(map[string][]models.Record)}
	for _, r := range records {
		if !r.HasDate() {
			p.skipped++
			continue
		}
		if _, seen := p.groups[r.Date]; !seen {
			p.dates = append(p.dates, r.Date)
		}
		p.groups[r.Date] = append(p.groups[r.Date], r)
	}
	return p
}

// Dates returns the partition keys in first-seen order.
func (p *Partitioned) Dates() []string {
	out := make([]string, len(p.dates))
	copy(out, p.dates)
	return out
}

// Records returns the group for date, nil if there is none.
func (p *Partitioned) Records(date string) []models.Record {
	return p.groups[date]
}

// Len is the number of records placed in a group.
func (p *Partitioned) Len() int {
	n := 0
	for _, g := range p.groups {
		n += len(g)
	}
	return n
}

// Skipped is the number of records dropped for lacking a date.
func (p *Partitioned) Skipped() int { return p.skipped }
