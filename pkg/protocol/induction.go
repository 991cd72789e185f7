package protocol

import (
	"context"
	"fmt"

	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/pipette"
)

// colSpan is one contiguous run of target wells within a destination
// column, addressed zero-based. The multichannel head serves the whole
// span from its first row in a single dispense pass.
type colSpan struct {
	column int
	row    int
	count  int
}

// columnSpans scans the destination grid column by column and splits
// each column's target wells into maximal contiguous spans. Columns with
// no target wells produce nothing.
func columnSpans(def *labware.Definition, targets map[string]bool) []colSpan {
	var spans []colSpan
	for col := 0; col < def.Columns; col++ {
		run := 0
		for row := 0; row < def.Rows; row++ {
			if targets[labware.WellName(col, row)] {
				run++
				continue
			}
			if run > 0 {
				spans = append(spans, colSpan{column: col, row: row - run, count: run})
				run = 0
			}
		}
		if run > 0 {
			spans = append(spans, colSpan{column: col, row: def.Rows - run, count: run})
		}
	}
	return spans
}

// induce runs the induction pass: the induced wells receive the inducer,
// the uninduced wells the same volume of plain diluent. Each contiguous
// column span costs one multichannel pickup anchored at its first row.
func (r *Run) induce(ctx context.Context) error {
	passes := []struct {
		name    string
		liquid  Liquid
		targets map[string]bool
	}{
		{"induce with " + r.cfg.Inducer.Name, r.cfg.Inducer, r.cfg.Plan.InducedSet()},
		{"induce without " + r.cfg.Inducer.Name, r.cfg.Diluent, r.cfg.Plan.UninducedSet()},
	}
	for _, pass := range passes {
		r.step(pass.name)
		for _, span := range columnSpans(r.cfg.Dest.Def, pass.targets) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.induceSpan(span, pass.liquid); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Run) induceSpan(span colSpan, liquid Liquid) error {
	ins := r.cfg.Multi
	anchor, err := r.cfg.Dest.WellAt(span.column, span.row)
	if err != nil {
		return fmt.Errorf("protocol: induce: %w", err)
	}
	if _, err := ins.PickUp(span.count); err != nil {
		return fmt.Errorf("protocol: induce %s: %w", anchor.Well, err)
	}
	if _, err := ins.Transfer(pipette.TransferRequest{
		Volume:      r.cfg.Plan.InducerVolume,
		Source:      liquid.Loc,
		Destination: anchor,
		TouchTip:    true,
		Reverse:     true,
	}); err != nil {
		return fmt.Errorf("protocol: induce %s: %w", anchor.Well, err)
	}
	if err := ins.Drop(); err != nil {
		return fmt.Errorf("protocol: induce %s: %w", anchor.Well, err)
	}
	r.notify("transfer", map[string]any{
		"liquid": liquid.Name, "volume": r.cfg.Plan.InducerVolume,
		"dest": anchor.Well, "tips": span.count, "instrument": ins.Name(),
	})
	return nil
}
