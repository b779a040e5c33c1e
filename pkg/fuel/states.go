package fuel

// StateInfo describes the availability of one jurisdiction's price feed.
// The registry is static configuration, consulted read-only by the
// aggregator to decide which adapters to dispatch and by callers to render
// availability.
type StateInfo struct {
	Code        string `json:"code"`
	Label       string `json:"label"`
	Available   bool   `json:"available"`
	Description string `json:"description"`
}

// States lists every Australian jurisdiction and whether a price feed is
// currently wired for it.
var States = []StateInfo{
	{Code: "NSW", Label: "New South Wales", Available: true, Description: "FuelCheck real-time prices"},
	{Code: "VIC", Label: "Victoria", Available: true, Description: "Monthly open-data price reports"},
	{Code: "QLD", Label: "Queensland", Available: true, Description: "Fuel price reporting feed"},
	{Code: "NT", Label: "Northern Territory", Available: true, Description: "Served by the Queensland feed"},
	{Code: "WA", Label: "Western Australia", Available: true, Description: "FuelWatch regional feeds"},
	{Code: "TAS", Label: "Tasmania", Available: true, Description: "FuelCheck TAS"},
	{Code: "SA", Label: "South Australia", Available: false, Description: "API access application pending"},
	{Code: "ACT", Label: "Australian Capital Territory", Available: false, Description: "No public price feed yet"},
}

// StateByCode looks up a registry entry.
func StateByCode(code string) (StateInfo, bool) {
	for _, s := range States {
		if s.Code == code {
			return s, true
		}
	}
	return StateInfo{}, false
}

// StateAvailable reports whether a live feed exists for the given state code.
func StateAvailable(code string) bool {
	s, ok := StateByCode(code)
	return ok && s.Available
}

type stateBox struct {
	code           string
	minLat, maxLat float64
	minLng, maxLng float64
}

// Coarse bounding boxes for default-filter selection. Deliberately
// approximate; boxes overlap at borders and the first match wins, so the
// smaller jurisdictions are listed first. Never used for adapter dispatch.
var stateBoxes = []stateBox{
	{"ACT", -35.95, -35.10, 148.70, 149.45},
	{"TAS", -43.70, -39.50, 143.80, 148.50},
	{"NT", -26.00, -10.90, 129.00, 138.05},
	{"SA", -38.10, -26.00, 129.00, 141.00},
	{"WA", -35.20, -13.50, 112.50, 129.00},
	{"VIC", -39.20, -33.95, 140.90, 150.05},
	{"NSW", -37.60, -28.10, 141.00, 153.70},
	{"QLD", -29.20, -10.00, 138.00, 153.60},
}

// GuessState returns the most likely state code for a coordinate, or the
// empty string when the point falls outside every box (offshore). Intended
// for pre-selecting a sensible default filter only.
func GuessState(lat, lng float64) string {
	for _, b := range stateBoxes {
		if lat >= b.minLat && lat <= b.maxLat && lng >= b.minLng && lng <= b.maxLng {
			return b.code
		}
	}
	return ""
}
