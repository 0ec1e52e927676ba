package mixer

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

// channelOrder maps layout bit indexes to channels, in SMPTE order.
var channelOrder = [...]pcm.Channel{
	pcm.FrontLeft,
	pcm.FrontRight,
	pcm.FrontCenter,
	pcm.LowFrequency,
	pcm.BackLeft,
	pcm.BackRight,
	pcm.FrontLeftOfCenter,
	pcm.FrontRightOfCenter,
	pcm.BackCenter,
	pcm.SideLeft,
	pcm.SideRight,
	pcm.TopCenter,
	pcm.TopFrontLeft,
	pcm.TopFrontCenter,
	pcm.TopFrontRight,
	pcm.TopBackLeft,
	pcm.TopBackCenter,
	pcm.TopBackRight,
	pcm.Silence,
}

// ChannelOrder returns the channels present in layout in interleaving order.
func ChannelOrder(layout pcm.ChannelLayout) []pcm.Channel {
	order := make([]pcm.Channel, 0, layout.Channels())
	for i := 0; layout != 0 && i < len(channelOrder); i++ {
		if layout&1 == 1 {
			order = append(order, channelOrder[i])
		}
		layout >>= 1
	}
	return order
}

// DefaultChannelOrder returns the first count channels of the SMPTE order,
// padding with Silence past the known positions.
func DefaultChannelOrder(count int) []pcm.Channel {
	if count <= 0 {
		panic("mixer: default channel order needs at least one channel")
	}
	order := make([]pcm.Channel, count)
	for i := range order {
		if i < len(channelOrder) {
			order[i] = channelOrder[i]
		} else {
			order[i] = pcm.Silence
		}
	}
	return order
}

// ChannelLayoutChannels returns the number of channels in layout.
func ChannelLayoutChannels(layout pcm.ChannelLayout) int {
	return layout.Channels()
}

// DefaultLayout returns a standard layout for count channels, or
// LayoutUndefined when none is conventional.
func DefaultLayout(count int) pcm.ChannelLayout {
	switch count {
	case 1:
		return pcm.LayoutMono
	case 2:
		return pcm.LayoutStereo
	case 3:
		return pcm.Layout3F
	case 4:
		return pcm.LayoutQuad
	case 5:
		return pcm.Layout3F2
	case 6:
		return pcm.Layout3F2LFE
	case 7:
		return pcm.Layout3F3RLFE
	case 8:
		return pcm.Layout3F4LFE
	default:
		return pcm.LayoutUndefined
	}
}
