package domain

// DashboardSnapshot is the point-in-time view backing the operational
// dashboard. It is served from table storage independently of the live
// stream, so a broken stream degrades to stale counts instead of a blank
// screen.
type DashboardSnapshot struct {
	OrgID         string `json:"orgId"`
	Date          string `json:"date"`
	CheckinsToday int    `json:"checkinsToday"`
	ActiveVisits  int    `json:"activeVisits"`
	UniqueMembers int    `json:"uniqueMembers"`
}
