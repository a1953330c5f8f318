package quota

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// Report summarises every known user for the admin surface.
type Report struct {
	Users    []UserRecord `json:"users"`
	Total    int          `json:"total"`
	ProUsers int          `json:"pro_users"`
	// Exhausted counts non-Pro users who can no longer retouch.
	Exhausted int `json:"exhausted"`
	// Retouches is the sum of every user's count.
	Retouches int `json:"retouches"`
}

// Report lists every user record. It is read-only and takes no user locks,
// so counts may be a moment stale while requests are in flight.
func (g *Gate) Report(ctx context.Context) (Report, error) {
	users, err := g.store.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: list: %v", ErrPersistence, err)
	}

	r := Report{Users: users, Total: len(users)}
	for _, u := range users {
		r.Retouches += u.RetouchCount
		if u.IsPro {
			r.ProUsers++
		} else if u.RetouchCount >= g.maxFree {
			r.Exhausted++
		}
	}
	return r, nil
}

// CSVHeader is the first row written by ExportCSV.
var CSVHeader = []string{"user_id", "is_pro", "count"}

// ExportCSV writes every user as user_id,is_pro,count rows.
func (g *Gate) ExportCSV(ctx context.Context, w io.Writer) error {
	report, err := g.Report(ctx)
	if err != nil {
		return err
	}
	return WriteCSV(w, report.Users)
}

// WriteCSV writes users in the export format.
func WriteCSV(w io.Writer, users []UserRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, u := range users {
		row := []string{u.UserID, strconv.FormatBool(u.IsPro), strconv.Itoa(u.RetouchCount)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
