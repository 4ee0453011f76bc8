package database

import "path"

// Paths builds document and collection paths under a fixed root such as
// "appdata/main". The root must have an even number of segments.
type Paths struct {
	Root string
}

func NewPaths(root string) Paths {
	return Paths{Root: root}
}

func (p Paths) Sites() string { return path.Join(p.Root, "sites") }

func (p Paths) Site(siteID string) string { return path.Join(p.Sites(), siteID) }

func (p Paths) Hourly(siteID string) string { return path.Join(p.Site(siteID), "hourly") }

func (p Paths) HourlyRecord(siteID, bucket string) string {
	return path.Join(p.Hourly(siteID), bucket)
}

func (p Paths) DailyRecord(siteID, date string) string {
	return path.Join(p.Site(siteID), "daily", date)
}

func (p Paths) Status(siteID string) string {
	return path.Join(p.Site(siteID), "status", "current_risk")
}

// CaseCounter is the consolidated case count for a site and date.
func (p Paths) CaseCounter(date, siteID string) string {
	return path.Join(p.Root, "dailyCases", date, "sites", siteID)
}

// FieldSample is the water sample a field worker submitted for a site and date.
func (p Paths) FieldSample(date, siteID string) string {
	return path.Join(p.Root, "fieldSamples", date, "sites", siteID)
}

// Reports is a flat report collection such as "ashaworkers_reports".
func (p Paths) Reports(collection string) string { return path.Join(p.Root, collection) }

func (p Paths) ReportSummary(collection, date, siteID string) string {
	return path.Join(p.Root, collection, date, "sites", siteID)
}

func (p Paths) ReportSiteWorkers(collection, date, siteID string) string {
	return path.Join(p.ReportSummary(collection, date, siteID), "workers")
}

func (p Paths) ReportWorkers(collection, date string) string {
	return path.Join(p.Root, collection, date, "workers")
}
