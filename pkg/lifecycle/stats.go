package lifecycle

import (
	"context"
	"maps"
	"time"
)

// LifecycleStats is the fleet summary returned by
// [Scheduler.LifecycleStats]. Durations are in seconds.
type LifecycleStats struct {
	TotalAgents        int            `json:"total_agents"`
	StatusDistribution map[Status]int `json:"status_distribution"`
	UptimeStats        UptimeStats    `json:"uptime_stats"`
	HeartbeatStats     HeartbeatStats `json:"heartbeat_stats"`
	GeneratedAt        time.Time      `json:"generated_at"`
}

// UptimeStats covers agents that have a started_at time. With no such
// agent every field is zero.
type UptimeStats struct {
	AgentsWithUptime int     `json:"agents_with_uptime"`
	AverageUptime    float64 `json:"average_uptime"`
	LongestUptime    float64 `json:"longest_uptime"`
	ShortestUptime   float64 `json:"shortest_uptime"`
}

// HeartbeatStats counts recent heartbeats and averages the interval
// between the last two heartbeats of agents that have both.
type HeartbeatStats struct {
	AgentsWithRecentHeartbeat int     `json:"agents_with_recent_heartbeat"`
	AverageHeartbeatInterval  float64 `json:"average_heartbeat_interval"`
}

// clone returns a copy that shares nothing mutable with s.
func (s LifecycleStats) clone() LifecycleStats {
	s.StatusDistribution = maps.Clone(s.StatusDistribution)
	return s
}

// computeStats aggregates the snapshot at now.
func computeStats(states map[string]AgentState, now time.Time, recentWindow time.Duration) LifecycleStats {
	stats := LifecycleStats{
		TotalAgents:        len(states),
		StatusDistribution: make(map[Status]int, len(Statuses())),
		GeneratedAt:        now,
	}
	for _, st := range Statuses() {
		stats.StatusDistribution[st] = 0
	}

	var totalUptime, totalInterval float64
	intervals := 0
	for _, s := range states {
		if s.Status.Valid() {
			stats.StatusDistribution[s.Status]++
		}

		if s.StartedAt != nil {
			uptime := max(0, now.Sub(*s.StartedAt).Seconds())
			u := &stats.UptimeStats
			if u.AgentsWithUptime == 0 || uptime < u.ShortestUptime {
				u.ShortestUptime = uptime
			}
			u.LongestUptime = max(u.LongestUptime, uptime)
			u.AgentsWithUptime++
			totalUptime += uptime
		}

		if s.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(s.LastHeartbeat) <= recentWindow {
			stats.HeartbeatStats.AgentsWithRecentHeartbeat++
		}
		if s.PreviousHeartbeat != nil {
			d := s.LastHeartbeat.Sub(*s.PreviousHeartbeat)
			if d < 0 {
				d = -d
			}
			totalInterval += d.Seconds()
			intervals++
		}
	}

	if n := stats.UptimeStats.AgentsWithUptime; n > 0 {
		stats.UptimeStats.AverageUptime = totalUptime / float64(n)
	}
	if intervals > 0 {
		stats.HeartbeatStats.AverageHeartbeatInterval = totalInterval / float64(intervals)
	}
	return stats
}

// LifecycleStats returns fleet statistics: status distribution, uptime
// since started_at, and heartbeat recency and interval. A computed result
// is reused for the configured stats TTL.
func (s *Scheduler) LifecycleStats(ctx context.Context) LifecycleStats {
	_, span := s.startSpan(ctx, "LifecycleStats", "")
	defer finishSpan(span, true, nil)

	now := s.now()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	if s.stats != nil && now.Sub(s.stats.GeneratedAt) < s.cfg.StatsCacheTTL {
		return s.stats.clone()
	}

	stats := computeStats(s.registry.AgentStates(), now, s.cfg.RecentHeartbeatWindow)
	for status, n := range stats.StatusDistribution {
		s.instruments.Agents.WithLabelValues(string(status)).Set(float64(n))
	}
	s.stats = &stats
	return stats.clone()
}
