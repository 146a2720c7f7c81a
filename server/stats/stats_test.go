package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCountsMergeAssociative(t *testing.T) {
	// Counting the whole stream must equal counting any partition of it
	events := []string{"person", "car", "person", "dog", "person", "car"}

	whole := NewCounts()
	for _, label := range events {
		whole.Add(label, 1)
	}

	for split := 0; split <= len(events); split++ {
		a := NewCounts()
		for _, label := range events[:split] {
			a.Add(label, 1)
		}
		b := NewCounts()
		for _, label := range events[split:] {
			b.Add(label, 1)
		}
		a.Merge(b)
		require.Equal(t, whole, a, "split at %v", split)
	}
}

func TestCountsTotalAndLabels(t *testing.T) {
	c := NewCounts()
	c.Add("person", 3)
	c.Add("car", 2)
	c.Add("zebra", 1)
	require.Equal(t, int64(6), c.Total())
	require.Equal(t, []string{"car", "person", "zebra"}, c.Labels())
}

func TestCountsClone(t *testing.T) {
	c := NewCounts()
	c.Add("person", 1)
	clone := c.Clone()
	clone.Add("person", 5)
	require.Equal(t, int64(1), c["person"])
	require.Equal(t, int64(6), clone["person"])
}
