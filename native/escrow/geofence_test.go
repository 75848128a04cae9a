package escrow

import (
	"errors"
	"math"
	"testing"
)

func TestPlanarDistance(t *testing.T) {
	cases := []struct {
		name   string
		center Location
		claim  Location
		want   int64
	}{
		{name: "same point", want: 0},
		{name: "pythagorean", claim: Location{Latitude: 3, Longitude: 4}, want: 5},
		{name: "negative deltas", center: Location{Latitude: -3, Longitude: -4}, want: 5},
		{name: "floored root", claim: Location{Latitude: 1, Longitude: 1}, want: 1},
		{name: "axis", claim: Location{Latitude: 6}, want: 6},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := PlanarMetric{}.Distance(tc.center, tc.claim)
			if got.Int64() != tc.want {
				t.Fatalf("distance = %s, want %d", got, tc.want)
			}
		})
	}
}

func TestPlanarDistanceDoesNotOverflow(t *testing.T) {
	center := Location{Latitude: math.MinInt64, Longitude: math.MinInt64}
	claim := Location{Latitude: math.MaxInt64, Longitude: math.MaxInt64}
	got := PlanarMetric{}.Distance(center, claim)
	if got.Sign() <= 0 {
		t.Fatalf("expected a positive distance, got %s", got)
	}
	if got.IsUint64() {
		t.Fatalf("expected distance beyond uint64, got %s", got)
	}
	if _, ok := WithinRadius(PlanarMetric{}, center, claim, math.MaxUint64); ok {
		t.Fatalf("extreme coordinates must not fit inside any radius")
	}
}

func TestWithinRadiusIsInclusive(t *testing.T) {
	center := Location{}
	if d, ok := WithinRadius(nil, center, Location{Latitude: 3, Longitude: 4}, 5); !ok || d.Int64() != 5 {
		t.Fatalf("distance 5 with radius 5 should pass, got %s %v", d, ok)
	}
	if d, ok := WithinRadius(nil, center, Location{Latitude: 6}, 5); ok {
		t.Fatalf("distance %s with radius 5 should fail", d)
	}
	if _, ok := WithinRadius(nil, center, center, 0); !ok {
		t.Fatalf("zero radius should accept the exact location")
	}
}

func TestHaversineDistance(t *testing.T) {
	m := HaversineMetric{Scale: DefaultCoordinateScale}
	// One micro-degree of latitude is about 0.11 m.
	if got := m.Distance(Location{}, Location{Latitude: 9}); got.Int64() != 1 {
		t.Fatalf("9 micro-degrees = %s m, want 1", got)
	}
	// One degree of latitude along a meridian.
	got := m.Distance(Location{}, Location{Latitude: 1_000_000})
	if got.Int64() < 111_000 || got.Int64() > 111_300 {
		t.Fatalf("one degree = %s m, want about 111195", got)
	}
	// Berlin to Paris is roughly 878 km.
	berlin := Location{Latitude: 52_520_008, Longitude: 13_404_954}
	paris := Location{Latitude: 48_856_613, Longitude: 2_352_222}
	got = m.Distance(berlin, paris)
	if got.Int64() < 870_000 || got.Int64() > 885_000 {
		t.Fatalf("berlin-paris = %s m", got)
	}
	if m.Distance(paris, berlin).Cmp(got) != 0 {
		t.Fatalf("haversine distance must be symmetric")
	}
}

func TestHaversineValidate(t *testing.T) {
	m := HaversineMetric{}
	if err := m.Validate(Location{Latitude: 90_000_000, Longitude: -180_000_000}); err != nil {
		t.Fatalf("poles and antimeridian are valid: %v", err)
	}
	if err := m.Validate(Location{Latitude: 90_000_001}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for latitude, got %v", err)
	}
	if err := m.Validate(Location{Longitude: 180_000_001}); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for longitude, got %v", err)
	}
	if err := (PlanarMetric{}).Validate(Location{Latitude: math.MaxInt64}); err != nil {
		t.Fatalf("planar accepts any coordinates: %v", err)
	}
}

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("", 0)
	if err != nil || m.Name() != MetricPlanar {
		t.Fatalf("empty name should select planar, got %v %v", m, err)
	}
	m, err = ParseMetric(" Haversine ", 0)
	if err != nil {
		t.Fatalf("parse haversine: %v", err)
	}
	hv, ok := m.(HaversineMetric)
	if !ok || hv.Scale != DefaultCoordinateScale {
		t.Fatalf("unexpected metric %#v", m)
	}
	if _, err := ParseMetric("manhattan", 0); err == nil {
		t.Fatalf("expected error for unknown metric")
	}
}

func TestEngineUsesHaversineMetric(t *testing.T) {
	h := newHarness(t)
	h.engine.SetMetric(HaversineMetric{Scale: DefaultCoordinateScale})
	site := Location{Latitude: 52_520_008, Longitude: 13_404_954}
	if _, err := h.engine.Create(business, 1, worker, bigInt(10), site, 50); err != nil {
		t.Fatalf("create: %v", err)
	}
	// About 111 m north of the site.
	if _, err := h.engine.VerifyAndRelease(1, Location{Latitude: site.Latitude + 1_000, Longitude: site.Longitude}); !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	// About 33 m north of the site.
	if _, err := h.engine.VerifyAndRelease(1, Location{Latitude: site.Latitude + 300, Longitude: site.Longitude}); err != nil {
		t.Fatalf("verify within 50 m: %v", err)
	}
	if _, err := h.engine.Create(business, 2, worker, bigInt(10), Location{Latitude: 91_000_000}, 50); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams for out of range latitude, got %v", err)
	}
}

func TestHaversineAntipodalClaimIsFarthest(t *testing.T) {
	m := HaversineMetric{Scale: DefaultCoordinateScale}
	halfCircumference := int64(math.Floor(earthRadiusMeters * math.Pi))
	pairs := []struct{ center, claim Location }{
		{Location{Latitude: -89_382_714, Longitude: -180_000_000}, Location{Latitude: 89_382_714, Longitude: 0}},
		{Location{Latitude: -88_395_058, Longitude: -180_000_000}, Location{Latitude: 88_395_058, Longitude: 0}},
		{Location{}, Location{Longitude: 180_000_000}},
		{Location{Latitude: 52_520_008, Longitude: 13_404_954}, Location{Latitude: -52_520_008, Longitude: -166_595_046}},
	}
	for _, p := range pairs {
		got := m.Distance(p.center, p.claim)
		if got.Int64() < halfCircumference-1_000 || got.Int64() > halfCircumference {
			t.Fatalf("antipodal distance %v -> %v = %s m, want about %d", p.center, p.claim, got, halfCircumference)
		}
		if _, ok := WithinRadius(m, p.center, p.claim, uint64(earthRadiusMeters)); ok {
			t.Fatalf("antipodal claim %v must not fit a %d m radius", p.claim, int64(earthRadiusMeters))
		}
	}
}

func TestUnreachableDistanceExceedsEveryRadius(t *testing.T) {
	d := unreachableDistance()
	if d.IsUint64() {
		t.Fatalf("unreachable distance %s fits in uint64", d)
	}
}

func TestEngineRejectsOutOfRangeClaim(t *testing.T) {
	h := newHarness(t)
	h.engine.SetMetric(HaversineMetric{Scale: DefaultCoordinateScale})
	site := Location{Latitude: 10_000_000, Longitude: 20_000_000}
	if _, err := h.engine.Create(business, 1, worker, bigInt(10), site, 100); err != nil {
		t.Fatalf("create: %v", err)
	}
	claims := []Location{
		{Latitude: 90_000_001, Longitude: site.Longitude},
		{Latitude: site.Latitude, Longitude: -180_000_001},
		{Latitude: math.MinInt64, Longitude: math.MaxInt64},
	}
	for _, claim := range claims {
		if _, err := h.engine.VerifyAndRelease(1, claim); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("claim %v: expected ErrInvalidParams, got %v", claim, err)
		}
	}
	esc, err := h.engine.Get(1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if esc.Status != EscrowCreated {
		t.Fatalf("rejected claims must leave the escrow created, got %s", esc.Status)
	}
	if _, err := h.engine.VerifyAndRelease(1, site); err != nil {
		t.Fatalf("verify at the site: %v", err)
	}
}
