package models

type AggregationMode string

const (
	ModeRaw     AggregationMode = "raw"
	ModeGrouped AggregationMode = "grouped"
)

// SectorGroup is a display-level union of sectors for aggregated
// reporting. A sector should belong to at most one group; when the
// configuration overlaps, the first configured group wins.
type SectorGroup struct {
	ID      string   `json:"id"`
	EventID string   `json:"event_id"`
	Name    string   `json:"name"`
	Sectors []string `json:"sectors"`
}

// Contains reports whether the group claims the given sector.
func (g *SectorGroup) Contains(sector string) bool {
	for _, s := range g.Sectors {
		if s == sector {
			return true
		}
	}
	return false
}

// SourcePolicy controls how the aggregator treats tickets from a given
// origin. Locator-style placeholders are not counted until used.
type SourcePolicy struct {
	CountsWhenAvailable bool
}

var sourcePolicies = map[string]SourcePolicy{
	SourceImport:   {CountsWhenAvailable: true},
	SourceCSV:      {CountsWhenAvailable: true},
	SourceManual:   {CountsWhenAvailable: true},
	SourceCheckins: {CountsWhenAvailable: true},
	SourceSheets:   {CountsWhenAvailable: true},
	SourceLocator:  {CountsWhenAvailable: false},
	SourceAlert:    {CountsWhenAvailable: true},
}

// PolicyFor resolves the counting policy for a source tag. Unknown tags
// count normally.
func PolicyFor(source string) SourcePolicy {
	if p, ok := sourcePolicies[source]; ok {
		return p
	}
	return SourcePolicy{CountsWhenAvailable: true}
}
