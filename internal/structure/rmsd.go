package structure

import (
	"fmt"
	"math"
)

// Comparison is the CA-only structural distance between a predicted
// model and a reference structure.
type Comparison struct {
	RMSDBefore   float64 `json:"rmsd_before_alignment"`
	RMSDAfter    float64 `json:"rmsd_after_alignment"`
	AtomsAligned int     `json:"num_atoms_aligned"`
	Source       string  `json:"wild_type_source"`
	UniProtID    string  `json:"wild_type_uniprot"`
}

// Compare superposes the first chains of two models and reports RMSD in
// angstroms before and after optimal alignment. The chains must carry
// the same number of CA atoms; single-residue substitutions preserve the
// count, so a mismatch means the reference does not match the sequence.
func Compare(refPath, targetPath string) (*Comparison, error) {
	ref, err := ReadCAs(refPath)
	if err != nil {
		return nil, err
	}
	target, err := ReadCAs(targetPath)
	if err != nil {
		return nil, err
	}
	ref = FirstChain(ref)
	target = FirstChain(target)

	if len(ref) != len(target) {
		return nil, fmt.Errorf("mismatched CA atom counts: reference=%d, target=%d",
			len(ref), len(target))
	}

	before := directRMSD(ref, target)
	after := superposedRMSD(ref, target)

	return &Comparison{
		RMSDBefore:   before,
		RMSDAfter:    after,
		AtomsAligned: len(ref),
	}, nil
}

func directRMSD(a, b []CA) float64 {
	var sum float64
	for i := range a {
		dx := a[i].X - b[i].X
		dy := a[i].Y - b[i].Y
		dz := a[i].Z - b[i].Z
		sum += dx*dx + dy*dy + dz*dz
	}
	return math.Sqrt(sum / float64(len(a)))
}

// superposedRMSD computes the minimal RMSD over all rigid-body
// superpositions using Horn's quaternion method: the optimal rotation
// corresponds to the largest eigenvalue of a 4x4 matrix built from the
// coordinate cross-correlations, and the residual follows from it
// without constructing the rotation itself.
func superposedRMSD(a, b []CA) float64 {
	n := float64(len(a))

	var acx, acy, acz, bcx, bcy, bcz float64
	for i := range a {
		acx += a[i].X
		acy += a[i].Y
		acz += a[i].Z
		bcx += b[i].X
		bcy += b[i].Y
		bcz += b[i].Z
	}
	acx, acy, acz = acx/n, acy/n, acz/n
	bcx, bcy, bcz = bcx/n, bcy/n, bcz/n

	var sxx, sxy, sxz, syx, syy, syz, szx, szy, szz float64
	var ga, gb float64
	for i := range a {
		ax, ay, az := a[i].X-acx, a[i].Y-acy, a[i].Z-acz
		bx, by, bz := b[i].X-bcx, b[i].Y-bcy, b[i].Z-bcz

		ga += ax*ax + ay*ay + az*az
		gb += bx*bx + by*by + bz*bz

		sxx += ax * bx
		sxy += ax * by
		sxz += ax * bz
		syx += ay * bx
		syy += ay * by
		syz += ay * bz
		szx += az * bx
		szy += az * by
		szz += az * bz
	}

	k := [4][4]float64{
		{sxx + syy + szz, syz - szy, szx - sxz, sxy - syx},
		{syz - szy, sxx - syy - szz, sxy + syx, szx + sxz},
		{szx - sxz, sxy + syx, -sxx + syy - szz, syz + szy},
		{sxy - syx, szx + sxz, syz + szy, -sxx - syy + szz},
	}

	eig := jacobiEigenvalues(k)
	lambdaMax := eig[0]
	for _, v := range eig[1:] {
		if v > lambdaMax {
			lambdaMax = v
		}
	}

	e := (ga + gb - 2*lambdaMax) / n
	if e < 0 {
		e = 0
	}
	return math.Sqrt(e)
}

// jacobiEigenvalues diagonalizes a symmetric 4x4 matrix by cyclic Jacobi
// rotations and returns its eigenvalues in arbitrary order.
func jacobiEigenvalues(a [4][4]float64) [4]float64 {
	const maxSweeps = 50
	for sweep := 0; sweep < maxSweeps; sweep++ {
		var off float64
		for p := 0; p < 3; p++ {
			for q := p + 1; q < 4; q++ {
				off += a[p][q] * a[p][q]
			}
		}
		if off < 1e-20 {
			break
		}

		for p := 0; p < 3; p++ {
			for q := p + 1; q < 4; q++ {
				apq := a[p][q]
				if math.Abs(apq) < 1e-18 {
					continue
				}
				theta := (a[q][q] - a[p][p]) / (2 * apq)
				t := math.Copysign(1, theta) / (math.Abs(theta) + math.Sqrt(theta*theta+1))
				c := 1 / math.Sqrt(t*t+1)
				s := t * c

				a[p][p] -= t * apq
				a[q][q] += t * apq
				a[p][q], a[q][p] = 0, 0
				for r := 0; r < 4; r++ {
					if r == p || r == q {
						continue
					}
					arp, arq := a[r][p], a[r][q]
					a[r][p] = c*arp - s*arq
					a[p][r] = a[r][p]
					a[r][q] = s*arp + c*arq
					a[q][r] = a[r][q]
				}
			}
		}
	}
	return [4]float64{a[0][0], a[1][1], a[2][2], a[3][3]}
}
