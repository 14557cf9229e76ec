package surge

import "time"

// Checkpoint names a price recorded at a fixed elapsed time after detection.
type Checkpoint string

const (
	At1M  Checkpoint = "1m"
	At2M  Checkpoint = "2m"
	At3M  Checkpoint = "3m"
	At5M  Checkpoint = "5m"
	At10M Checkpoint = "10m"
	At15M Checkpoint = "15m"
	At30M Checkpoint = "30m"
)

// Checkpoints lists every checkpoint in elapsed-time order.
var Checkpoints = []Checkpoint{At1M, At2M, At3M, At5M, At10M, At15M, At30M}

// checkpointWindow maps an age range [from, to) to the checkpoint it fills.
// A zero upper bound leaves the window open-ended.
type checkpointWindow struct {
	from time.Duration
	to   time.Duration
	cp   Checkpoint
}

// Windows are contiguous: each upper bound is the next lower bound.
var checkpointWindows = []checkpointWindow{
	{from: 1 * time.Minute, to: 2 * time.Minute, cp: At1M},
	{from: 2 * time.Minute, to: 3 * time.Minute, cp: At2M},
	{from: 3 * time.Minute, to: 5 * time.Minute, cp: At3M},
	{from: 5 * time.Minute, to: 10 * time.Minute, cp: At5M},
	{from: 10 * time.Minute, to: 15 * time.Minute, cp: At10M},
	{from: 15 * time.Minute, to: 30 * time.Minute, cp: At15M},
	{from: 30 * time.Minute, cp: At30M},
}

// CheckpointFor returns the checkpoint whose window contains age.
// Ages under one minute belong to no checkpoint.
func CheckpointFor(age time.Duration) (Checkpoint, bool) {
	for _, w := range checkpointWindows {
		if age < w.from {
			continue
		}
		if w.to == 0 || age < w.to {
			return w.cp, true
		}
	}
	return "", false
}

// Minutes returns the elapsed minutes the checkpoint stands for.
func (c Checkpoint) Minutes() int {
	for _, w := range checkpointWindows {
		if w.cp == c {
			return int(w.from / time.Minute)
		}
	}
	return 0
}

// Valid reports whether c is one of the known checkpoints.
func (c Checkpoint) Valid() bool {
	return c.Minutes() > 0
}
