package coreaudio

import (
	"github.com/tphakala/go-cubeb/internal/coreaudio/hal"
	"github.com/tphakala/go-cubeb/internal/coreaudio/pcm"
)

var labelChannels = map[hal.ChannelLabel]pcm.Channel{
	hal.LabelLeft:                 pcm.FrontLeft,
	hal.LabelRight:                pcm.FrontRight,
	hal.LabelCenter:               pcm.FrontCenter,
	hal.LabelMono:                 pcm.FrontCenter,
	hal.LabelLFEScreen:            pcm.LowFrequency,
	hal.LabelLeftSurround:         pcm.BackLeft,
	hal.LabelRightSurround:        pcm.BackRight,
	hal.LabelLeftCenter:           pcm.FrontLeftOfCenter,
	hal.LabelRightCenter:          pcm.FrontRightOfCenter,
	hal.LabelCenterSurround:       pcm.BackCenter,
	hal.LabelLeftSurroundDirect:   pcm.SideLeft,
	hal.LabelRightSurroundDirect:  pcm.SideRight,
	hal.LabelTopCenterSurround:    pcm.TopCenter,
	hal.LabelVerticalHeightLeft:   pcm.TopFrontLeft,
	hal.LabelVerticalHeightCenter: pcm.TopFrontCenter,
	hal.LabelVerticalHeightRight:  pcm.TopFrontRight,
	hal.LabelTopBackLeft:          pcm.TopBackLeft,
	hal.LabelTopBackCenter:        pcm.TopBackCenter,
	hal.LabelTopBackRight:         pcm.TopBackRight,
}

// channelFromLabel maps a device channel label to its SMPTE position. Labels
// without one become silence.
func channelFromLabel(label hal.ChannelLabel) pcm.Channel {
	if c, ok := labelChannels[label]; ok {
		return c
	}
	return pcm.Silence
}

func channelsFromLabels(labels []hal.ChannelLabel) []pcm.Channel {
	order := make([]pcm.Channel, len(labels))
	for i, l := range labels {
		order[i] = channelFromLabel(l)
	}
	return order
}

// layoutOf returns the layout bitmask of order, ignoring silent channels.
func layoutOf(order []pcm.Channel) pcm.ChannelLayout {
	var layout pcm.ChannelLayout
	for _, c := range order {
		layout |= c.Bit()
	}
	return layout
}
