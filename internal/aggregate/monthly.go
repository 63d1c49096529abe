package aggregate

import (
	"fmt"
	"time"

	"github.com/leafscan/leafscan/internal/errors"
	"github.com/leafscan/leafscan/internal/store"
)

// DateLayout is the day format accepted by ParseDate.
const DateLayout = time.DateOnly

// Month is one calendar month bucket.
type Month struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

func (m Month) String() string { return fmt.Sprintf("%04d-%02d", m.Year, int(m.Month)) }

// MarshalText renders the month as YYYY-MM.
func (m Month) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

func monthOf(t time.Time) Month {
	t = t.UTC()
	return Month{Year: t.Year(), Month: t.Month()}
}

func (m Month) next() Month {
	if m.Month == time.December {
		return Month{Year: m.Year + 1, Month: time.January}
	}
	return Month{Year: m.Year, Month: m.Month + 1}
}

func (m Month) before(o Month) bool {
	return m.Year < o.Year || (m.Year == o.Year && m.Month < o.Month)
}

// ParseDate parses a YYYY-MM-DD day in UTC.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, errors.New(err).
			Component("aggregate").
			Category(errors.CategoryValidation).
			Context("date", s).
			Build()
	}
	return t, nil
}

// GenerateMonthlyRange returns every month from the month of from to the
// month of to, both included. It is empty when to is before from.
func GenerateMonthlyRange(from, to time.Time) []Month {
	first, last := monthOf(from), monthOf(to)
	out := []Month{}
	for m := first; !last.before(m); m = m.next() {
		out = append(out, m)
	}
	return out
}

// MonthlyRange is GenerateMonthlyRange over YYYY-MM-DD strings.
func MonthlyRange(from, to string) ([]Month, error) {
	f, err := ParseDate(from)
	if err != nil {
		return nil, err
	}
	t, err := ParseDate(to)
	if err != nil {
		return nil, err
	}
	return GenerateMonthlyRange(f, t), nil
}

// MonthStats counts the activity of one month.
type MonthStats struct {
	Month          Month `json:"month"`
	TreesAdded     int   `json:"trees_added"`
	ImagesUploaded int   `json:"images_uploaded"`
	Healthy        int   `json:"healthy"`
	Diseased       int   `json:"diseased"`
	Unclassified   int   `json:"unclassified"`
}

// MonthlyStats buckets the active trees of userID by month added and their
// active images by month uploaded, with each image's classification.
func MonthlyStats(snap store.Snapshot, userID string, from, to time.Time) []MonthStats {
	months := GenerateMonthlyRange(from, to)
	out := make([]MonthStats, len(months))
	pos := make(map[Month]int, len(months))
	for i, m := range months {
		out[i].Month = m
		pos[m] = i
	}

	v := newView(snap, userID)
	for _, t := range v.trees() {
		if i, ok := pos[monthOf(t.AddedAt)]; ok {
			out[i].TreesAdded++
		}
		for _, img := range v.imagesByTree[t.ID] {
			i, ok := pos[monthOf(img.UploadedAt)]
			if !ok {
				continue
			}
			out[i].ImagesUploaded++
			switch v.classify(img.ID).Verdict {
			case Healthy:
				out[i].Healthy++
			case Diseased:
				out[i].Diseased++
			default:
				out[i].Unclassified++
			}
		}
	}
	return out
}
