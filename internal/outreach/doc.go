// Package outreach is the dispatch engine: target selection, membership-aware
// filtering, template composition, rolling-cap admission control, and the
// strictly sequential send loop.
//
// The append-only outreach log is the single source of truth for both dedup
// (a user with a sent row is never targeted again) and the hour/day caps
// (counted over trailing windows of the durable log, so restarts cannot be
// used to bypass them).
package outreach
