package cases

import (
	"bytes"
	"encoding/json"
	"time"
)

// number is a JSON field that counts only when it holds a number.
type number struct {
	v  float64
	ok bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var f float64
	if json.Unmarshal(b, &f) == nil {
		n.v, n.ok = f, true
	}
	return nil
}

// flag is a JSON field that counts only when it holds a boolean.
type flag struct {
	v  bool
	ok bool
}

func (f *flag) UnmarshalJSON(b []byte) error {
	var v bool
	if json.Unmarshal(b, &v) == nil && !bytes.Equal(b, []byte("null")) {
		f.v, f.ok = v, true
	}
	return nil
}

// list is a JSON field that counts only when it holds an array.
type list struct {
	n  int
	ok bool
}

func (l *list) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var xs []json.RawMessage
	if json.Unmarshal(b, &xs) == nil {
		l.n, l.ok = len(xs), true
	}
	return nil
}

// dateMarker holds the calendar date named by a report field. Timestamp
// objects ({"seconds": n} or {"_seconds": n}) resolve in UTC. Strings keep
// their first ten characters.
type dateMarker struct {
	date string
	ok   bool
}

func (d *dateMarker) UnmarshalJSON(b []byte) error {
	var s string
	if json.Unmarshal(b, &s) == nil {
		if len(s) > 10 {
			s = s[:10]
		}
		d.date, d.ok = s, s != ""
		return nil
	}

	var ts struct {
		Seconds  number `json:"seconds"`
		USeconds number `json:"_seconds"`
	}
	if json.Unmarshal(b, &ts) == nil {
		sec := ts.USeconds
		if !sec.ok || sec.v == 0 {
			sec = ts.Seconds
		}
		if sec.ok && sec.v != 0 {
			d.date = time.Unix(int64(sec.v), 0).UTC().Format(time.DateOnly)
			d.ok = true
		}
	}
	return nil
}

// Report is an illness report in any of the shapes field apps have written.
type Report struct {
	Cases              number `json:"cases"`
	CaseCountCamel     number `json:"caseCount"`
	Count              number `json:"count"`
	AffectedCount      number `json:"affectedCount"`
	Affected           flag   `json:"affected"`
	AffectedCountSnake number `json:"affected_count"`
	AffectedList       list   `json:"affected_list"`
	Patients           list   `json:"patients"`

	Date       dateMarker `json:"date"`
	CreatedAt  dateMarker `json:"createdAt"`
	ReportedAt dateMarker `json:"reportedAt"`
	Timestamp  dateMarker `json:"timestamp"`
	Time       dateMarker `json:"time"`
	UpdatedAt  dateMarker `json:"updatedAt"`
}

type countStrategy func(Report) (int, bool)

func fromNumber(pick func(Report) number) countStrategy {
	return func(r Report) (int, bool) {
		n := pick(r)
		if !n.ok {
			return 0, false
		}
		return max(0, int(n.v)), true
	}
}

func fromList(pick func(Report) list) countStrategy {
	return func(r Report) (int, bool) {
		l := pick(r)
		return l.n, l.ok
	}
}

// countStrategies are tried in order; the first shape present decides the count.
var countStrategies = []countStrategy{
	fromNumber(func(r Report) number { return r.Cases }),
	fromNumber(func(r Report) number { return r.CaseCountCamel }),
	fromNumber(func(r Report) number { return r.Count }),
	fromNumber(func(r Report) number { return r.AffectedCount }),
	func(r Report) (int, bool) {
		if !r.Affected.ok {
			return 0, false
		}
		if r.Affected.v {
			return 1, true
		}
		return 0, true
	},
	fromNumber(func(r Report) number { return r.AffectedCountSnake }),
	fromList(func(r Report) list { return r.AffectedList }),
	fromList(func(r Report) list { return r.Patients }),
}

// CaseCount reduces the report to a count. Reports with no recognised shape count zero.
func (r Report) CaseCount() int {
	for _, strategy := range countStrategies {
		if n, ok := strategy(r); ok {
			return n
		}
	}
	return 0
}

// OnDate reports whether any date field names date (YYYY-MM-DD).
func (r Report) OnDate(date string) bool {
	for _, m := range []dateMarker{r.Date, r.CreatedAt, r.ReportedAt, r.Timestamp, r.Time, r.UpdatedAt} {
		if m.ok && m.date == date {
			return true
		}
	}
	return false
}

// ParseReport decodes a raw document body.
func ParseReport(raw []byte) (Report, error) {
	var r Report
	err := json.Unmarshal(raw, &r)
	return r, err
}
