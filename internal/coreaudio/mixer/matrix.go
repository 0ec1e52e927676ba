package mixer

import (
	"slices"

	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

type side int

const (
	sideCenter side = iota
	sideLeft
	sideRight
)

// foldTargets lists, for channels missing from the output, the output
// channels that take them over, best first. FrontLeft, FrontRight and
// FrontCenter are handled separately as the last resort of every side.
var foldTargets = map[pcm.Channel][]pcm.Channel{
	pcm.FrontLeftOfCenter:  {pcm.FrontLeft},
	pcm.FrontRightOfCenter: {pcm.FrontRight},
	pcm.BackLeft:           {pcm.SideLeft, pcm.FrontLeft},
	pcm.BackRight:          {pcm.SideRight, pcm.FrontRight},
	pcm.SideLeft:           {pcm.BackLeft, pcm.FrontLeft},
	pcm.SideRight:          {pcm.BackRight, pcm.FrontRight},
	pcm.BackCenter:         {},
	pcm.TopCenter:          {pcm.FrontCenter},
	pcm.TopFrontLeft:       {pcm.FrontLeft},
	pcm.TopFrontCenter:     {pcm.FrontCenter},
	pcm.TopFrontRight:      {pcm.FrontRight},
	pcm.TopBackLeft:        {pcm.BackLeft, pcm.SideLeft, pcm.FrontLeft},
	pcm.TopBackCenter:      {pcm.BackCenter},
	pcm.TopBackRight:       {pcm.BackRight, pcm.SideRight, pcm.FrontRight},
}

func sideOf(c pcm.Channel) side {
	switch c {
	case pcm.FrontLeft, pcm.BackLeft, pcm.FrontLeftOfCenter, pcm.SideLeft, pcm.TopFrontLeft, pcm.TopBackLeft:
		return sideLeft
	case pcm.FrontRight, pcm.BackRight, pcm.FrontRightOfCenter, pcm.SideRight, pcm.TopFrontRight, pcm.TopBackRight:
		return sideRight
	default:
		return sideCenter
	}
}

// buildMatrix returns gains[output][input]. Channels present on both sides
// pass through, others fold into the nearest available output at -3 dB. The
// low frequency channel is dropped unless the output carries one. The whole
// matrix is scaled down when any output would sum above unity.
func buildMatrix(input, output []pcm.Channel) [][]float32 {
	matrix := make([][]float32, len(output))
	for o := range matrix {
		matrix[o] = make([]float32, len(input))
	}

	index := func(c pcm.Channel) int { return slices.Index(output, c) }

	for i, c := range input {
		if c == pcm.Silence {
			continue
		}
		if o := index(c); o >= 0 {
			matrix[o][i] = 1
			continue
		}
		if c == pcm.LowFrequency {
			continue
		}

		routed := false
		for _, target := range foldTargets[c] {
			if o := index(target); o >= 0 {
				matrix[o][i] = minusThreeDB
				routed = true
				break
			}
		}
		if routed {
			continue
		}

		fl, fr, fc := index(pcm.FrontLeft), index(pcm.FrontRight), index(pcm.FrontCenter)
		switch sideOf(c) {
		case sideLeft:
			routed = route(matrix, i, fl, fc)
		case sideRight:
			routed = route(matrix, i, fr, fc)
		default:
			if fc >= 0 {
				matrix[fc][i] = minusThreeDB
				routed = true
			} else if fl >= 0 && fr >= 0 {
				matrix[fl][i] = minusThreeDB
				matrix[fr][i] = minusThreeDB
				routed = true
			}
		}
		if !routed && len(output) > 0 {
			// Nothing sensible exists, keep the signal audible on the first channel.
			matrix[0][i] = minusThreeDB
		}
	}

	normalize(matrix)
	return matrix
}

// route assigns -3 dB to the first valid output index.
func route(matrix [][]float32, in int, candidates ...int) bool {
	for _, o := range candidates {
		if o >= 0 {
			matrix[o][in] = minusThreeDB
			return true
		}
	}
	return false
}

func normalize(matrix [][]float32) {
	var peak float32
	for _, row := range matrix {
		var sum float32
		for _, g := range row {
			sum += g
		}
		peak = max(peak, sum)
	}
	if peak <= 1 {
		return
	}
	for _, row := range matrix {
		for i := range row {
			row[i] /= peak
		}
	}
}
