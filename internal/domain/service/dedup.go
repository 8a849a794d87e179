package service

import (
	"math"
	"strconv"
	"strings"

	"github.com/kailas-cloud/healthrec/internal/domain/geo"
)

// KeepStrategy selects which record survives among duplicates.
type KeepStrategy string

// Deduplication strategies.
const (
	KeepFirst      KeepStrategy = "first"
	KeepLast       KeepStrategy = "last"
	KeepMostRecent KeepStrategy = "most_recent"
)

// DuplicateKey identifies a service by normalized name and coordinates rounded to ~1 m.
func DuplicateKey(name string, loc *geo.Point) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if loc == nil {
		return key + "||"
	}
	return key + "|" + round6(loc.Lat) + "|" + round6(loc.Lon)
}

func round6(f float64) string {
	return strconv.FormatFloat(math.Round(f*1e6)/1e6, 'f', -1, 64)
}

// Key returns the record's duplicate key.
func (r *Record) Key() string {
	return DuplicateKey(r.Name, r.Location)
}

// Dedup removes duplicate records and returns the survivors in input order plus the removed count.
func Dedup(records []Record, strategy KeepStrategy) ([]Record, int) {
	if len(records) == 0 {
		return records, 0
	}

	winner := make(map[string]int, len(records))
	for i := range records {
		key := records[i].Key()
		j, seen := winner[key]
		switch {
		case !seen:
			winner[key] = i
		case strategy == KeepLast:
			winner[key] = i
		case strategy == KeepMostRecent && newer(&records[i], &records[j]):
			winner[key] = i
		}
	}

	out := make([]Record, 0, len(winner))
	for i := range records {
		if winner[records[i].Key()] == i {
			out = append(out, records[i])
		}
	}
	return out, len(records) - len(out)
}

func newer(a, b *Record) bool {
	if a.LastUpdated == nil {
		return false
	}
	if b.LastUpdated == nil {
		return true
	}
	return a.LastUpdated.After(*b.LastUpdated)
}
