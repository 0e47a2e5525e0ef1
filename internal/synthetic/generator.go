// Package synthetic generates reproducible incident tables for local runs and tests.
package synthetic

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/couchcryptid/incident-risk/internal/domain"
)

var (
	incidentTypes = []string{"电气火灾", "生活垃圾", "电动车", "厨房用火", "车辆火灾", "绿化植被"}
	brigades      = []string{"浦东支队", "浦东二支队"}
	streets       = []string{"张江镇", "花木街道", "川沙新镇", "陆家嘴街道", "金桥镇", "北蔡镇"}
	stations      = []string{"张江站", "花木站", "川沙站", "陆家嘴站", "金桥站"}
	indoorOutdoor = []string{"室内", "室外"}
	notes         = []string{
		"电动车 充电 起火",
		"垃圾 堆放 冒烟",
		"厨房 油锅 起火",
		"电线 短路 冒烟",
		"车辆 自燃",
		"绿化带 枯草 燃烧",
		"",
	}
	roads        = []string{"张杨路", "世纪大道", "东方路", "浦东大道", "川沙路", "金科路"}
	remarks      = []string{"", "", "", "(居民处置)", "（物业处置）", "(误报)"}
	defaultStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
)

// Generator draws incidents around a set of hotspots. Hotspot cells burn almost daily;
// background incidents scatter uniformly across the square of side 2*Spread.
type Generator struct {
	Seed      uint64
	Start     time.Time
	Days      int
	CenterLat float64
	CenterLon float64
	// Spread is the half-width of the sampled area in degrees.
	Spread   float64
	Hotspots int
	// PerDay is the mean number of incidents per day.
	PerDay float64
	// HotspotShare is the fraction of incidents drawn near a hotspot.
	HotspotShare float64
	// AddressOnlyShare is the fraction of rows written with an address and blank coordinates.
	AddressOnlyShare float64
}

// Defaults returns a month of Pudong-like incidents.
func Defaults() Generator {
	return Generator{
		Seed:         1,
		Start:        defaultStart,
		Days:         30,
		CenterLat:    31.22,
		CenterLon:    121.54,
		Spread:       0.03,
		Hotspots:     4,
		PerDay:       10,
		HotspotShare: 0.6,
	}
}

// Generate returns incidents in chronological order.
func (g Generator) Generate() []domain.Incident {
	rng := rand.New(rand.NewPCG(g.Seed, 0x5eed))
	start := g.Start
	if start.IsZero() {
		start = defaultStart
	}

	hotspots := make([][2]float64, max(g.Hotspots, 0))
	for i := range hotspots {
		hotspots[i] = [2]float64{
			g.CenterLat + (rng.Float64()*2-1)*g.Spread*0.8,
			g.CenterLon + (rng.Float64()*2-1)*g.Spread*0.8,
		}
	}

	var out []domain.Incident
	for day := range g.Days {
		date := start.AddDate(0, 0, day)
		n := poisson(rng, g.PerDay)
		daily := make([]domain.Incident, 0, n)
		for range n {
			var lat, lon float64
			if len(hotspots) > 0 && rng.Float64() < g.HotspotShare {
				h := hotspots[rng.IntN(len(hotspots))]
				lat = h[0] + rng.NormFloat64()*0.002
				lon = h[1] + rng.NormFloat64()*0.002
			} else {
				lat = g.CenterLat + (rng.Float64()*2-1)*g.Spread
				lon = g.CenterLon + (rng.Float64()*2-1)*g.Spread
			}
			openedAt := date.Add(time.Duration(rng.IntN(24*60)) * time.Minute)

			inc := domain.Incident{
				OpenedAt:        openedAt,
				Lat:             round6(lat),
				Lon:             round6(lon),
				Address:         fmt.Sprintf("%s%d号%s", pick(rng, roads), 1+rng.IntN(999), pick(rng, remarks)),
				IncidentType:    pick(rng, incidentTypes),
				Brigade:         pick(rng, brigades),
				Street:          pick(rng, streets),
				Station:         pick(rng, stations),
				IndoorOutdoor:   pick(rng, indoorOutdoor),
				Note:            pick(rng, notes),
				ResponseMinutes: math.Round(rng.ExpFloat64()*600) / 100,
				Cluster:         domain.NoCluster,
			}
			if rng.Float64() < g.AddressOnlyShare {
				inc.NeedsGeocoding = true
			}
			daily = append(daily, inc)
		}
		slices.SortStableFunc(daily, func(a, b domain.Incident) int { return a.OpenedAt.Compare(b.OpenedAt) })
		for _, inc := range daily {
			inc.ID = fmt.Sprintf("F%06d", len(out)+1)
			out = append(out, inc)
		}
	}
	return out
}

func pick(rng *rand.Rand, values []string) string {
	return values[rng.IntN(len(values))]
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// poisson draws from a Poisson distribution by Knuth's method; fine for small means.
func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	l := math.Exp(-mean)
	k, p := 0, 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
