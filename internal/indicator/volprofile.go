package indicator

import (
	"math"

	"featureflow/internal/model"
	"featureflow/internal/ringbuf"
)

// lvnProximity is the distance, as a fraction of the bar range, within which
// the close counts as sitting in a low-volume node.
const lvnProximity = 0.25

// VolumeProfile is the per-bar volume-node estimate.
type VolumeProfile struct {
	LVN      float64 // valid only when HasNodes
	HVN      float64 // valid only when HasNodes
	HasNodes bool    // false on the first bar: no prior history
	InLVN    bool
	// Percentile ranks the bar's volume against prior bars only.
	Percentile float64
}

// VolumeProfileTracker keeps a bounded history of traded volume.
//
// Nodes are the min/max of the volume history as it stood before the current
// bar, so a node is always derived from prior bars.
type VolumeProfileTracker struct {
	volumes *ringbuf.Window[float64]
	scratch []float64
}

// NewVolumeProfileTracker creates a tracker over the last w bars (typically 200).
func NewVolumeProfileTracker(w int) *VolumeProfileTracker {
	return &VolumeProfileTracker{
		volumes: ringbuf.New[float64](w),
		scratch: make([]float64, 0, w),
	}
}

// Update computes the profile from prior bars, then appends the bar's volume.
func (t *VolumeProfileTracker) Update(bar *model.Bar) VolumeProfile {
	var vp VolumeProfile

	t.scratch = t.volumes.AppendTo(t.scratch[:0])
	prior := t.scratch
	if len(prior) > 0 {
		vp.HasNodes = true
		vp.LVN, vp.HVN = prior[0], prior[0]
		for _, v := range prior[1:] {
			vp.LVN = math.Min(vp.LVN, v)
			vp.HVN = math.Max(vp.HVN, v)
		}
		vp.InLVN = math.Abs(bar.Close-vp.LVN) <= bar.Range()*lvnProximity
	}

	// Rank against what will remain once the oldest is evicted.
	if t.volumes.Full() {
		prior = prior[1:]
	}
	vp.Percentile = PercentileRank(prior, bar.Volume)

	t.volumes.Push(bar.Volume)
	return vp
}
