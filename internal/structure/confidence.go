package structure

import (
	"math"
)

// confidentPLDDT separates confident from destabilized residues, per the
// AlphaFold pLDDT convention.
const confidentPLDDT = 70.0

// Distribution counts residues per confidence band.
type Distribution struct {
	VeryHigh  int `json:"very_high_90_100"`
	Confident int `json:"confident_70_90"`
	Low       int `json:"low_50_70"`
	VeryLow   int `json:"very_low_0_50"`
}

// Region is a contiguous run of residues below the confident threshold.
type Region struct {
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Length   int     `json:"length"`
	AvgPLDDT float64 `json:"avg_plddt"`
}

// Confidence summarizes per-residue pLDDT for one predicted model.
type Confidence struct {
	AvgPLDDT            float64      `json:"avg_plddt"`
	MinPLDDT            float64      `json:"min_plddt"`
	MaxPLDDT            float64      `json:"max_plddt"`
	Distribution        Distribution `json:"confidence_distribution"`
	DestabilizedRegions []Region     `json:"destabilized_regions"`
	NumDestabilized     int          `json:"num_destabilized_residues"`
	PercentDestabilized float64      `json:"percent_destabilized"`
}

// AnalyzeConfidence computes the confidence summary from CA pLDDT values.
func AnalyzeConfidence(cas []CA) Confidence {
	if len(cas) == 0 {
		return Confidence{DestabilizedRegions: []Region{}}
	}

	var (
		sum      float64
		min      = cas[0].PLDDT
		max      = cas[0].PLDDT
		dist     Distribution
		regions  = []Region{}
		runStart = -1
		runSum   float64
		runLen   int
	)

	endRun := func(endSeq int) {
		if runLen == 0 {
			return
		}
		regions = append(regions, Region{
			Start:    runStart,
			End:      endSeq,
			Length:   runLen,
			AvgPLDDT: round1(runSum / float64(runLen)),
		})
		runStart, runSum, runLen = -1, 0, 0
	}

	prevSeq := 0
	for _, ca := range cas {
		p := ca.PLDDT
		sum += p
		if p < min {
			min = p
		}
		if p > max {
			max = p
		}

		switch {
		case p >= 90:
			dist.VeryHigh++
		case p >= 70:
			dist.Confident++
		case p >= 50:
			dist.Low++
		default:
			dist.VeryLow++
		}

		if p < confidentPLDDT {
			if runLen == 0 {
				runStart = ca.Seq
			}
			runSum += p
			runLen++
		} else {
			endRun(prevSeq)
		}
		prevSeq = ca.Seq
	}
	endRun(prevSeq)

	numDestab := dist.Low + dist.VeryLow
	return Confidence{
		AvgPLDDT:            round2(sum / float64(len(cas))),
		MinPLDDT:            round2(min),
		MaxPLDDT:            round2(max),
		Distribution:        dist,
		DestabilizedRegions: regions,
		NumDestabilized:     numDestab,
		PercentDestabilized: round1(100 * float64(numDestab) / float64(len(cas))),
	}
}

func round1(x float64) float64 { return math.Round(x*10) / 10 }
func round2(x float64) float64 { return math.Round(x*100) / 100 }
