package escrow

import (
	"fmt"
	"math"
	"math/big"
	"strings"
)

const (
	MetricPlanar    = "planar"
	MetricHaversine = "haversine"

	// DefaultCoordinateScale interprets haversine coordinates as micro-degrees.
	DefaultCoordinateScale uint64 = 1_000_000

	earthRadiusMeters = 6_371_000.0
)

// Metric measures the distance between the fixed job location and a claimed
// worker position. Radii are compared against the returned value as-is, so a
// metric also fixes the unit of Escrow.Radius.
type Metric interface {
	Name() string
	Distance(center, claim Location) *big.Int
	Validate(loc Location) error
}

// PlanarMetric is the integer square root of the squared coordinate deltas.
// Degrees of longitude shrink with latitude, so it only approximates ground
// distance for small radii inside a narrow latitude band.
type PlanarMetric struct{}

func (PlanarMetric) Name() string { return MetricPlanar }

func (PlanarMetric) Distance(center, claim Location) *big.Int {
	dLat := new(big.Int).Sub(big.NewInt(center.Latitude), big.NewInt(claim.Latitude))
	dLng := new(big.Int).Sub(big.NewInt(center.Longitude), big.NewInt(claim.Longitude))
	sum := new(big.Int).Mul(dLat, dLat)
	sum.Add(sum, new(big.Int).Mul(dLng, dLng))
	return sum.Sqrt(sum)
}

func (PlanarMetric) Validate(Location) error { return nil }

// HaversineMetric computes great-circle distance in whole metres. Coordinates
// are fixed-point degrees multiplied by Scale.
type HaversineMetric struct {
	Scale uint64
}

func (HaversineMetric) Name() string { return MetricHaversine }

func (m HaversineMetric) scale() float64 {
	if m.Scale == 0 {
		return float64(DefaultCoordinateScale)
	}
	return float64(m.Scale)
}

func (m HaversineMetric) radians(v int64) float64 {
	return float64(v) / m.scale() * math.Pi / 180
}

func (m HaversineMetric) Distance(center, claim Location) *big.Int {
	lat1 := m.radians(center.Latitude)
	lat2 := m.radians(claim.Latitude)
	dLat := lat2 - lat1
	dLng := m.radians(claim.Longitude) - m.radians(center.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	// Rounding can push a just past 1 for antipodal points.
	a = math.Min(math.Max(a, 0), 1)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	meters := math.Floor(earthRadiusMeters * c)
	if math.IsNaN(meters) {
		return unreachableDistance()
	}
	if meters < 0 {
		meters = 0
	}
	return new(big.Int).SetUint64(uint64(meters))
}

// unreachableDistance exceeds every uint64 radius.
func unreachableDistance() *big.Int {
	d := new(big.Int).SetUint64(math.MaxUint64)
	return d.Add(d, big.NewInt(1))
}

func (m HaversineMetric) Validate(loc Location) error {
	scale := m.scale()
	if math.Abs(float64(loc.Latitude)) > 90*scale {
		return fmt.Errorf("%w: latitude %d outside ±90 degrees", ErrInvalidParams, loc.Latitude)
	}
	if math.Abs(float64(loc.Longitude)) > 180*scale {
		return fmt.Errorf("%w: longitude %d outside ±180 degrees", ErrInvalidParams, loc.Longitude)
	}
	return nil
}

// ParseMetric resolves a configured metric name. An empty name selects the
// planar metric.
func ParseMetric(name string, scale uint64) (Metric, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", MetricPlanar:
		return PlanarMetric{}, nil
	case MetricHaversine:
		if scale == 0 {
			scale = DefaultCoordinateScale
		}
		return HaversineMetric{Scale: scale}, nil
	default:
		return nil, fmt.Errorf("escrow: unsupported distance metric %q", name)
	}
}

// WithinRadius reports the measured distance and whether it is inside the
// inclusive radius.
func WithinRadius(m Metric, center, claim Location, radius uint64) (*big.Int, bool) {
	if m == nil {
		m = PlanarMetric{}
	}
	distance := m.Distance(center, claim)
	return distance, distance.Cmp(new(big.Int).SetUint64(radius)) <= 0
}
