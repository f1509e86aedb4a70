package db

import (
	"sort"
	"time"
)

// QueryLatencyStat summarizes the recent latency distribution of one named
// intake query, keyed by its `-- name:` comment header.
type QueryLatencyStat struct {
	Name  string
	Count int
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// QueryLatencyStats reports a summary for every query the instrumented
// connection has observed, slowest P95 first.
func (c *Database) QueryLatencyStats() []QueryLatencyStat {
	if c == nil || c.tracker == nil {
		return nil
	}
	stats := c.tracker.summarize()
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].P95 == stats[j].P95 {
			return stats[i].Name < stats[j].Name
		}
		return stats[i].P95 > stats[j].P95
	})
	return stats
}
