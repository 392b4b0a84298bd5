package validate

import (
	"fmt"
	"math"

	"github.com/chorale-dev/chorale/internal/agent"
)

const earthRadiusKM = 6371.0

// GeoTolerance flags coordinate disagreement between agents. When two agents
// both report a position and the distance between them exceeds the tolerance,
// the lower-confidence agent is excluded.
type GeoTolerance struct {
	ToleranceKM float64
}

func NewGeoTolerance(km float64) *GeoTolerance {
	return &GeoTolerance{ToleranceKM: km}
}

func (g *GeoTolerance) Name() string { return "geo_tolerance" }

func (g *GeoTolerance) Check(results []*agent.Result) []Finding {
	type located struct {
		res      *agent.Result
		lat, lon float64
	}
	var positions []located
	for _, r := range results {
		lat, lon, ok := coordinatesOf(r.Output)
		if !ok {
			continue
		}
		positions = append(positions, located{res: r, lat: lat, lon: lon})
	}

	flagged := make(map[string]Finding)
	for i := 0; i < len(positions); i++ {
		for j := i + 1; j < len(positions); j++ {
			a, b := positions[i], positions[j]
			dist := haversineKM(a.lat, a.lon, b.lat, b.lon)
			if dist <= g.ToleranceKM {
				continue
			}
			// The agent we trust less loses; on a tie the later one does.
			loser, other := b, a
			if a.res.Confidence < b.res.Confidence {
				loser, other = a, b
			}
			if _, done := flagged[loser.res.AgentID]; done {
				continue
			}
			flagged[loser.res.AgentID] = Finding{
				AgentID: loser.res.AgentID,
				Detail: fmt.Sprintf("coordinates %.1f km away from agent %q, tolerance %.1f km",
					dist, other.res.AgentID, g.ToleranceKM),
			}
		}
	}

	// Report in input order for stable output.
	var findings []Finding
	for _, p := range positions {
		if f, ok := flagged[p.res.AgentID]; ok {
			findings = append(findings, f)
		}
	}
	return findings
}

func coordinatesOf(output map[string]any) (lat, lon float64, ok bool) {
	lat, latOK := numeric(output["latitude"])
	lon, lonOK := numeric(output["longitude"])
	return lat, lon, latOK && lonOK
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func haversineKM(lat1, lon1, lat2, lon2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Asin(math.Sqrt(a))
}
