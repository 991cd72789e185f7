// protocol-gen prepares an experiment plan for the host: it assigns the
// preconditioned samples to randomized destination wells, derives
// OD-normalized cell and diluent volumes from a plate-reader export, and
// writes the plan TOML that pipetbot-go executes.
//
// The destination layout uses rows B-G of columns 2-11. The induced
// samples land in the first wells of that region in column-major order,
// the uninduced samples in the rest; within each region the placement is
// random but reproducible from the seed. Unassigned wells become blanks
// that receive diluent only.
//
// Usage:
//
//	protocol-gen -samples samples.toml -data pre.csv -out plan.toml [options]
//
// Options:
//
//	-samples string   Sample definition TOML file (required)
//	-data string      Plate-reader CSV export (required)
//	-out string       Output plan file (default plan.toml)
//	-seed string      Assignment seed (default: the -data filename)
//	-name string      Protocol name recorded in the plan
//	-author string    Author recorded in the plan
//	-desc string      Description recorded in the plan
//	-plate string     Destination plate type (default nest_96_wellplate_200ul_flat)
//	-total float      Destination well working volume in uL (default 200)
//	-inducer float    Per-well induction volume in uL (default 9.5)
package main

import (
	"flag"
	"fmt"
	"hash/fnv"
	"math/rand"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"pipetbot-go/pkg/labware"
	"pipetbot-go/pkg/plan"
	"pipetbot-go/pkg/platereader"
)

// sampleDef is one source well's description in the samples file.
type sampleDef struct {
	CDS     string `toml:"cds"`
	RBS     string `toml:"rbs"`
	Induced bool   `toml:"induced"`
}

// samplesFile is the -samples input: source well name to sample.
type samplesFile struct {
	Samples map[string]sampleDef `toml:"samples"`
}

func main() {
	samplesPath := flag.String("samples", "", "Sample definition TOML file (required)")
	dataPath := flag.String("data", "", "Plate-reader CSV export (required)")
	outPath := flag.String("out", "plan.toml", "Output plan file")
	seed := flag.String("seed", "", "Assignment seed (default: the -data filename)")
	name := flag.String("name", "experiment", "Protocol name recorded in the plan")
	author := flag.String("author", "", "Author recorded in the plan")
	desc := flag.String("desc", "", "Description recorded in the plan")
	plate := flag.String("plate", "nest_96_wellplate_200ul_flat", "Destination plate type")
	total := flag.Float64("total", 200, "Destination well working volume in uL")
	inducer := flag.Float64("inducer", 9.5, "Per-well induction volume in uL")
	flag.Parse()

	if *samplesPath == "" || *dataPath == "" {
		fmt.Fprintln(os.Stderr, "Error: -samples and -data are required")
		flag.Usage()
		os.Exit(1)
	}
	if *seed == "" {
		*seed = filepath.Base(*dataPath)
	}

	if err := generate(*samplesPath, *dataPath, *outPath, *seed, *name, *author, *desc, *plate, *total, *inducer); err != nil {
		fmt.Fprintf(os.Stderr, "protocol-gen: %v\n", err)
		os.Exit(1)
	}
}

func generate(samplesPath, dataPath, outPath, seed, name, author, desc, plate string, total, inducerVol float64) error {
	var sf samplesFile
	if _, err := toml.DecodeFile(samplesPath, &sf); err != nil {
		return fmt.Errorf("decode %s: %w", samplesPath, err)
	}
	if len(sf.Samples) == 0 {
		return fmt.Errorf("%s defines no samples", samplesPath)
	}
	for well := range sf.Samples {
		if _, _, err := labware.ParseWell(well); err != nil {
			return fmt.Errorf("sample well %q: %w", well, err)
		}
	}

	destDef, err := labware.Lookup(plate)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(seedValue(seed)))
	wells, induced, uninduced, err := assignWells(sf.Samples, rng)
	if err != nil {
		return err
	}

	data, err := platereader.ParseFile(dataPath)
	if err != nil {
		return err
	}
	volumes, err := platereader.Normalize(data, platereader.NormalizeOptions{
		TotalVolume:   total,
		InducerVolume: inducerVol,
		BlankWells:    blankSources(sf.Samples),
	})
	if err != nil {
		return err
	}

	headroom := total - inducerVol
	for dest, w := range wells {
		if w.IsBlank() {
			w.CellVolume = 0
			w.DiluentVolume = headroom
		} else {
			v, ok := volumes[w.Source]
			if !ok {
				return fmt.Errorf("no absorbance reading for source well %s", w.Source)
			}
			w.CellVolume = v.Cell
			w.DiluentVolume = v.Diluent
		}
		wells[dest] = w
	}

	p := &plan.Plan{
		InducerVolume: inducerVol,
		Induced:       induced,
		Uninduced:     uninduced,
		Metadata: plan.Metadata{
			Name:        name,
			Author:      author,
			Description: desc,
		},
		Wells: wells,
	}
	if err := p.Validate(destDef); err != nil {
		return err
	}
	if err := p.Save(outPath); err != nil {
		return err
	}

	assigned := 0
	for _, w := range wells {
		if !w.IsBlank() {
			assigned++
		}
	}
	fmt.Printf("%s: %d wells (%d samples, %d blanks), %d induced\n",
		outPath, len(wells), assigned, len(wells)-assigned, len(induced))
	return nil
}

// seedValue folds the seed string into an RNG source.
func seedValue(seed string) int64 {
	h := fnv.New64a()
	h.Write([]byte(seed))
	return int64(h.Sum64())
}

// validWells lists the usable destination region, rows B-G of columns
// 2-11, in column-major order. The outer rows and columns stay empty to
// limit evaporation edge effects.
func validWells() []string {
	var wells []string
	for col := 1; col <= 10; col++ {
		for row := 1; row <= 6; row++ {
			wells = append(wells, labware.WellName(col, row))
		}
	}
	return wells
}

// sortWells orders well names in column-major plate order so assignment
// iteration is deterministic.
func sortWells(names []string) {
	sort.Slice(names, func(i, j int) bool {
		ci, ri, _ := labware.ParseWell(names[i])
		cj, rj, _ := labware.ParseWell(names[j])
		if ci != cj {
			return ci < cj
		}
		return ri < rj
	})
}

// assignWells places each non-blank sample in a random well of its
// partition. The induced region is sized by the induced sample count,
// blanks included, so the plate split mirrors the source layout.
func assignWells(samples map[string]sampleDef, rng *rand.Rand) (map[string]plan.Well, []string, []string, error) {
	valid := validWells()
	numInduced := 0
	for _, s := range samples {
		if s.Induced {
			numInduced++
		}
	}
	if numInduced > len(valid) {
		return nil, nil, nil, fmt.Errorf("%d induced samples exceed the %d-well region", numInduced, len(valid))
	}
	induced := append([]string(nil), valid[:numInduced]...)
	uninduced := append([]string(nil), valid[numInduced:]...)

	// Random draws follow the column-major source order, so a fixed seed
	// reproduces the layout exactly.
	var sources []string
	for well, s := range samples {
		if s.CDS != plan.Blank {
			sources = append(sources, well)
		}
	}
	sortWells(sources)

	wells := make(map[string]plan.Well, len(valid))
	freeInduced := append([]string(nil), induced...)
	freeUninduced := append([]string(nil), uninduced...)
	for _, source := range sources {
		s := samples[source]
		free := &freeUninduced
		if s.Induced {
			free = &freeInduced
		}
		if len(*free) == 0 {
			return nil, nil, nil, fmt.Errorf("no destination well left for sample %s", source)
		}
		i := rng.Intn(len(*free))
		dest := (*free)[i]
		*free = append((*free)[:i], (*free)[i+1:]...)
		wells[dest] = plan.Well{Source: source, CDS: s.CDS, RBS: s.RBS}
	}

	// Everything unassigned in the region becomes a diluent-only blank.
	for _, well := range valid {
		if _, ok := wells[well]; !ok {
			wells[well] = plan.Well{Source: plan.Blank}
		}
	}
	return wells, induced, uninduced, nil
}

// blankSources lists the source wells marked blank; their absorbance
// average is the blank correction.
func blankSources(samples map[string]sampleDef) []string {
	var blanks []string
	for well, s := range samples {
		if s.CDS == plan.Blank {
			blanks = append(blanks, well)
		}
	}
	sortWells(blanks)
	return blanks
}
