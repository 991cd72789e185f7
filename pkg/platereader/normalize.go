package platereader

import (
	"fmt"
)

// DefaultTargetOD is the OD660 the normalization dilutes every culture
// to. It corresponds to 0.2 OD600 on the bench spectrophotometer.
const DefaultTargetOD = 0.0234506

// DefaultLabel is the absorbance label used for normalization.
const DefaultLabel = "OD660"

// Volumes is the normalized pipetting outcome for one source well.
type Volumes struct {
	// Cell is the culture volume to transfer, in microliters.
	Cell float64

	// Diluent is the diluent volume topping the well up, in microliters.
	Diluent float64
}

// NormalizeOptions configures Normalize. Zero values select the defaults
// noted per field.
type NormalizeOptions struct {
	// TargetOD is the optical density to normalize to (DefaultTargetOD).
	TargetOD float64

	// Label selects the absorbance dataset (DefaultLabel).
	Label string

	// TotalVolume is the destination well working volume in microliters.
	// Required.
	TotalVolume float64

	// InducerVolume is reserved headroom for the later induction
	// delivery; cell plus diluent always sums to TotalVolume minus this.
	InducerVolume float64

	// BlankWells are the media-only wells whose mean absorbance is the
	// blank correction. Required.
	BlankWells []string
}

// Normalize derives per-well cell and diluent volumes from the latest
// timepoint of the absorbance data: the blank-well mean is subtracted
// from each culture well, the cell volume is scaled to hit the target
// OD and clamped to the available headroom, and diluent fills the rest.
// Blank wells themselves are not part of the result.
func Normalize(data *Data, opts NormalizeOptions) (map[string]Volumes, error) {
	if opts.TargetOD == 0 {
		opts.TargetOD = DefaultTargetOD
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.TotalVolume <= 0 {
		return nil, fmt.Errorf("platereader: total volume %v", opts.TotalVolume)
	}
	if len(opts.BlankWells) == 0 {
		return nil, fmt.Errorf("platereader: no blank wells to correct against")
	}

	latest, err := data.LatestTime(opts.Label)
	if err != nil {
		return nil, err
	}

	blank := make(map[string]bool, len(opts.BlankWells))
	blankSum, blankN := 0.0, 0
	for _, well := range opts.BlankWells {
		blank[well] = true
		if v, ok := data.Mean(well, opts.Label, latest); ok {
			blankSum += v
			blankN++
		}
	}
	if blankN == 0 {
		return nil, fmt.Errorf("platereader: no readings for blank wells at t=%d", latest)
	}
	blankMean := blankSum / float64(blankN)

	headroom := opts.TotalVolume - opts.InducerVolume
	result := make(map[string]Volumes)
	for _, well := range data.WellsAt(opts.Label, latest) {
		if blank[well] {
			continue
		}
		od, _ := data.Mean(well, opts.Label, latest)
		od -= blankMean

		// A culture below blank density cannot reach the target and
		// bottoms out at zero; exactly at blank density the request is
		// unbounded and takes the full headroom.
		cell := 0.0
		switch {
		case od > 0:
			cell = (opts.TargetOD / od) * opts.TotalVolume
		case od == 0:
			cell = headroom
		}
		if cell > headroom {
			cell = headroom
		}
		if cell < 0 {
			cell = 0
		}
		result[well] = Volumes{Cell: cell, Diluent: headroom - cell}
	}
	return result, nil
}
