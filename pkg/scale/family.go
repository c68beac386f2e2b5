package scale

import "strings"

// Family denotes a known family of remote scales, derived from the advertised name
type Family int

const (

	// FamilyUnknown denotes a device that is not a supported scale
	FamilyUnknown Family = iota

	// FamilyAcaia denotes Acaia scales (Lunar, Pearl, Pyxis, Proch)
	FamilyAcaia

	// FamilyFelicita denotes Felicita scales
	FamilyFelicita
)

var familyNames = map[Family]string{
	FamilyUnknown:  "Unknown",
	FamilyAcaia:    "Acaia",
	FamilyFelicita: "Felicita",
}

// String returns a human-readable representation of the family
func (f Family) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return familyNames[FamilyUnknown]
}

type familyMarkers struct {
	family  Family
	markers []string
}

// Checked in order, the first matching family wins
var knownFamilies = []familyMarkers{
	{
		family:  FamilyAcaia,
		markers: []string{"ACAIA", "Acaia", "PEARL", "LUNAR", "PYXIS", "PROCH"},
	},
	{
		family:  FamilyFelicita,
		markers: []string{"FELICITA"},
	},
}

// Classify maps an advertised device name to the scale family it belongs to. Markers
// are matched case-sensitively as substrings; names matching no marker (including the
// empty name) yield FamilyUnknown
func Classify(name string) Family {
	for _, known := range knownFamilies {
		for _, marker := range known.markers {
			if strings.Contains(name, marker) {
				return known.family
			}
		}
	}

	return FamilyUnknown
}

// Markers returns the name markers of a family
func (f Family) Markers() []string {
	for _, known := range knownFamilies {
		if known.family == f {
			return append([]string(nil), known.markers...)
		}
	}
	return nil
}

// Families returns all known families in classification order
func Families() []Family {
	families := make([]Family, 0, len(knownFamilies))
	for _, known := range knownFamilies {
		families = append(families, known.family)
	}
	return families
}
