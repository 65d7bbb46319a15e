package geo

// regionNames maps the police accident dataset's region codes to the
// names of the fourteen Czech regions (kraje).
var regionNames = map[string]string{
	"PHA": "Hlavní město Praha",
	"STC": "Středočeský kraj",
	"JHC": "Jihočeský kraj",
	"PLK": "Plzeňský kraj",
	"KVK": "Karlovarský kraj",
	"ULK": "Ústecký kraj",
	"LBK": "Liberecký kraj",
	"HKK": "Královéhradecký kraj",
	"PAK": "Pardubický kraj",
	"VYS": "Kraj Vysočina",
	"JHM": "Jihomoravský kraj",
	"OLK": "Olomoucký kraj",
	"ZLK": "Zlínský kraj",
	"MSK": "Moravskoslezský kraj",
}

// RegionName returns the display name for a region code, or the code
// itself when it is not a known Czech region.
func RegionName(code string) string {
	if name, ok := regionNames[code]; ok {
		return name
	}
	return code
}
