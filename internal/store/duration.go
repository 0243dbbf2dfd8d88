package store

import "time"

func secondsToDuration(s int64) time.Duration {
	return time.Duration(s) * time.Second
}

func durationToSeconds(d time.Duration) int64 {
	return int64(d / time.Second)
}
