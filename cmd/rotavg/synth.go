package main

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/satoshi-pes/rotavg/shonan"
	"github.com/satoshi-pes/rotavg/son"
)

// graphConfig describes a synthetic pose graph.
type graphConfig struct {
	topology string  // ring or random
	poses    int
	extra    int     // chords beyond the base topology
	sigma    float64 // noise angle standard deviation, radians
	seed     uint64
}

func (c graphConfig) validate() error {
	switch c.topology {
	case "ring":
		if c.poses < 3 {
			return fmt.Errorf("ring graph needs at least 3 poses, got %d", c.poses)
		}
	case "random":
		if c.poses < 2 {
			return fmt.Errorf("random graph needs at least 2 poses, got %d", c.poses)
		}
	default:
		return fmt.Errorf("unknown graph topology %q, want ring or random", c.topology)
	}
	if c.extra < 0 {
		return fmt.Errorf("extra chord count must be non-negative, got %d", c.extra)
	}
	if c.sigma < 0 {
		return fmt.Errorf("noise sigma must be non-negative, got %v", c.sigma)
	}
	return nil
}

// synthesize draws ground-truth rotations and noisy relative measurements
// over them. Pose 0 is the identity so estimates anchored there compare
// directly against the truth.
func synthesize(cfg graphConfig) (shonan.Values, []shonan.Measurement, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	src := rand.NewPCG(cfg.seed, 0)
	rng := rand.New(src)

	truth := make(shonan.Values, cfg.poses)
	truth[0] = son.Identity(3)
	for i := 1; i < cfg.poses; i++ {
		truth[shonan.Key(i)] = son.Random(3, src)
	}

	edges := baseEdges(cfg.topology, cfg.poses, rng)
	edges = append(edges, chordEdges(cfg.poses, cfg.extra, rng)...)

	noise := noiseSource(cfg.sigma, src)
	measurements := make([]shonan.Measurement, 0, len(edges))
	for _, e := range edges {
		m := truth[e[0]].Inverse().Mul(truth[e[1]]).Mul(noise())
		measurements = append(measurements, shonan.NewMeasurement(e[0], e[1], m))
	}
	return truth, measurements, nil
}

// baseEdges returns a connected skeleton: the full cycle for a ring, a
// random spanning tree otherwise.
func baseEdges(topology string, n int, rng *rand.Rand) [][2]shonan.Key {
	edges := make([][2]shonan.Key, 0, n)
	switch topology {
	case "ring":
		for i := range n {
			edges = append(edges, [2]shonan.Key{shonan.Key(i), shonan.Key((i + 1) % n)})
		}
	case "random":
		// each pose attaches to an earlier one, so the tree spans
		for i := 1; i < n; i++ {
			edges = append(edges, [2]shonan.Key{shonan.Key(rng.IntN(i)), shonan.Key(i)})
		}
	}
	return edges
}

// chordEdges draws extra loop closures. Duplicates may occur; parallel
// measurements simply accumulate weight in the graph.
func chordEdges(n, extra int, rng *rand.Rand) [][2]shonan.Key {
	edges := make([][2]shonan.Key, 0, extra)
	for len(edges) < extra {
		i, j := rng.IntN(n), rng.IntN(n)
		if i == j {
			continue
		}
		edges = append(edges, [2]shonan.Key{shonan.Key(i), shonan.Key(j)})
	}
	return edges
}

// noiseSource draws small rotations with angle ~ N(0, sigma) about a
// uniformly random axis. Zero sigma yields exact measurements.
func noiseSource(sigma float64, src rand.Source) func() son.SOn {
	if sigma == 0 {
		id := son.Identity(3)
		return func() son.SOn { return id }
	}
	angle := distuv.Normal{Mu: 0, Sigma: sigma, Src: src}
	axis := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	return func() son.SOn {
		for {
			a := [3]float64{axis.Rand(), axis.Rand(), axis.Rand()}
			if a[0]*a[0]+a[1]*a[1]+a[2]*a[2] > 1e-12 {
				return son.FromAxisAngle(a, angle.Rand())
			}
		}
	}
}
