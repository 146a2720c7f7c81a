package stats

// Package stats accumulates per-class detection counts.
// Counts merge associatively, so partial counts gathered by independent
// workers can be combined in any order and any grouping.

import (
	"sort"
)

// Counts maps a class label to the number of detections of that class
type Counts map[string]int64

func NewCounts() Counts {
	return Counts{}
}

// Add records n detections of the given class
func (c Counts) Add(label string, n int64) {
	c[label] += n
}

// Merge folds other into c
func (c Counts) Merge(other Counts) {
	for label, n := range other {
		c[label] += n
	}
}

func (c Counts) Total() int64 {
	total := int64(0)
	for _, n := range c {
		total += n
	}
	return total
}

func (c Counts) Clone() Counts {
	out := make(Counts, len(c))
	for label, n := range c {
		out[label] = n
	}
	return out
}

// Labels returns the class labels in sorted order
func (c Counts) Labels() []string {
	labels := make([]string, 0, len(c))
	for label := range c {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}
