package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeDuplicateObjects(t *testing.T) {
	classes := []string{"person", "car", "truck"}
	aliases := map[string]string{"truck": "car"}

	car := ObjectDetection{Class: 1, Confidence: 0.9, Box: MakeRect(100, 100, 200, 180)}
	truck := ObjectDetection{Class: 2, Confidence: 0.6, Box: MakeRect(102, 98, 204, 182)}
	person := ObjectDetection{Class: 0, Confidence: 0.8, Box: MakeRect(400, 100, 440, 200)}

	input := []ObjectDetection{car, truck, person}
	retain := MergeDuplicateObjects(input, aliases, classes, 0.7)
	require.Equal(t, []int{0, 2}, retain)

	// A truck far away from any car is not merged
	farTruck := ObjectDetection{Class: 2, Confidence: 0.7, Box: MakeRect(600, 100, 700, 180)}
	input = []ObjectDetection{car, farTruck}
	retain = MergeDuplicateObjects(input, aliases, classes, 0.7)
	require.Equal(t, []int{0, 1}, retain)
}
