package tle

import (
	"strconv"
	"strings"
	"time"
)

// Entry is a single satellite's two-line element set as found in a catalog.
type Entry struct {
	CatalogNumber int
	Name          string
	Epoch         time.Time
	Line1         string
	Line2         string
}

// EpochRange represents the minimum and maximum epoch times in a dataset.
type EpochRange struct {
	Min time.Time
	Max time.Time
}

// Dataset is a complete set of element sets from one fetch or cache load.
// A Dataset is never modified after it is stored.
type Dataset struct {
	Source     string
	FetchedAt  time.Time
	EpochRange EpochRange
	Entries    []Entry
}

// NewDataset builds a Dataset and computes its epoch range.
func NewDataset(source string, fetchedAt time.Time, entries []Entry) *Dataset {
	ds := &Dataset{
		Source:    source,
		FetchedAt: fetchedAt,
		Entries:   entries,
	}
	for i, e := range entries {
		if i == 0 || e.Epoch.Before(ds.EpochRange.Min) {
			ds.EpochRange.Min = e.Epoch
		}
		if i == 0 || e.Epoch.After(ds.EpochRange.Max) {
			ds.EpochRange.Max = e.Epoch
		}
	}
	return ds
}

// Find returns the first entry whose trimmed name matches target
// case-insensitively. A numeric target that matches no name is looked up as a
// catalog number.
func Find(entries []Entry, target string) (Entry, bool) {
	target = strings.TrimSpace(target)
	if target == "" {
		return Entry{}, false
	}
	for _, e := range entries {
		if strings.EqualFold(strings.TrimSpace(e.Name), target) {
			return e, true
		}
	}
	if id, err := strconv.Atoi(target); err == nil {
		for _, e := range entries {
			if e.CatalogNumber == id {
				return e, true
			}
		}
	}
	return Entry{}, false
}

// Find looks target up in the dataset's entries.
func (d *Dataset) Find(target string) (Entry, bool) {
	if d == nil {
		return Entry{}, false
	}
	return Find(d.Entries, target)
}
