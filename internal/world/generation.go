// Grid generation using thresholded simplex noise.
// Obstacles cluster into walls and blobs instead of salt-and-pepper noise,
// and every accepted layout keeps its open cells 4-connected.
package world

import (
	"math/rand"
	"sort"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds random layout parameters.
type GenConfig struct {
	Rows            int
	Cols            int
	Seed            int64   // Random seed (0 = random)
	ObstacleDensity float64 // Fraction of cells turned into obstacles (0.0–0.6)
	Frequency       float64 // Noise frequency; higher = smaller blobs
	Zones           []ZoneSpec
	MaxAttempts     int // Reseeds allowed before giving up on connectivity
}

// ZoneSpec describes a zone to carve into a layout.
type ZoneSpec struct {
	Kind ZoneKind
	Rect Rect
}

// DefaultGenConfig returns a 20x20 maze with ~20% obstacles, the density
// used by the cops-and-robbers maze.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Rows:            20,
		Cols:            20,
		ObstacleDensity: 0.2,
		Frequency:       0.35,
		MaxAttempts:     50,
		Zones: []ZoneSpec{
			{Kind: ZoneSafety, Rect: Rect{MinRow: 3, MinCol: 3, MaxRow: 4, MaxCol: 4}},
			{Kind: ZoneSafety, Rect: Rect{MinRow: 14, MinCol: 14, MaxRow: 15, MaxCol: 15}},
		},
	}
}

// Generate creates a random layout. The free cells of the result are always
// 4-connected; if no seed within MaxAttempts yields such a layout a
// ConfigurationError is returned.
func Generate(cfg GenConfig) (*Grid, error) {
	if cfg.ObstacleDensity < 0 || cfg.ObstacleDensity > 0.6 {
		return nil, configErrorf("obstacle density %.2f outside 0.0-0.6", cfg.ObstacleDensity)
	}
	if cfg.Frequency <= 0 {
		cfg.Frequency = 0.35
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	for i := 0; i < attempts; i++ {
		g, err := generateOnce(cfg, seed+int64(i))
		if err != nil {
			return nil, err
		}
		if IsConnected(g) {
			return g, nil
		}
	}
	return nil, configErrorf("no connected %dx%d layout at density %.2f after %d attempts",
		cfg.Rows, cfg.Cols, cfg.ObstacleDensity, attempts)
}

func generateOnce(cfg GenConfig, seed int64) (*Grid, error) {
	g, err := NewGrid(cfg.Rows, cfg.Cols)
	if err != nil {
		return nil, err
	}

	noise := opensimplex.NewNormalized(seed)
	values := make([]float64, g.Size())
	for i := range values {
		p := g.At(i)
		values[i] = octaveNoise(noise, float64(p.Col), float64(p.Row), 3, cfg.Frequency, 0.5)
	}

	// Threshold at the density quantile: exactly n obstacles for any seed.
	if n := int(float64(len(values)) * cfg.ObstacleDensity); n > 0 {
		sorted := make([]float64, len(values))
		copy(sorted, values)
		sort.Float64s(sorted)
		threshold := sorted[len(sorted)-n]
		for i, v := range values {
			if v >= threshold {
				g.SetObstacle(g.At(i))
			}
		}
	}

	for _, z := range cfg.Zones {
		if _, err := g.AddZone(z.Kind, z.Rect); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxValue := 0.0
	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxValue += amplitude
		amplitude *= persistence
		frequency *= 2
	}
	return total / maxValue
}

// IsConnected reports whether every non-obstacle cell is reachable from every
// other through 4-adjacency. A grid with no open cells is not connected.
func IsConnected(g *Grid) bool {
	start := -1
	open := 0
	for i, c := range g.cells {
		if c.Kind != CellObstacle {
			open++
			if start < 0 {
				start = i
			}
		}
	}
	if start < 0 {
		return false
	}

	seen := make([]bool, g.Size())
	seen[start] = true
	stack := []int{start}
	reached := 1
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range g.Neighbors(g.At(cur)) {
			ni := g.Index(n)
			if seen[ni] || g.cells[ni].Kind == CellObstacle {
				continue
			}
			seen[ni] = true
			reached++
			stack = append(stack, ni)
		}
	}
	return reached == open
}
