package dbx

import "time"

// Stamp converts t to the INTEGER representation used in every table.
func Stamp(t time.Time) int64 {
	return t.UTC().UnixNano()
}

// Time is the inverse of Stamp.
func Time(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
