package agents

// knownZones is searched by substring when a location is not an exact IANA
// name. Order decides which zone wins an ambiguous substring.
var knownZones = []string{
	"UTC",
	"Africa/Cairo", "Africa/Casablanca", "Africa/Johannesburg", "Africa/Lagos", "Africa/Nairobi",
	"America/Anchorage", "America/Argentina/Buenos_Aires", "America/Bogota", "America/Chicago",
	"America/Denver", "America/Halifax", "America/Havana", "America/Lima", "America/Los_Angeles",
	"America/Mexico_City", "America/New_York", "America/Phoenix", "America/Santiago",
	"America/Sao_Paulo", "America/Toronto", "America/Vancouver",
	"Asia/Bangkok", "Asia/Dhaka", "Asia/Dubai", "Asia/Ho_Chi_Minh", "Asia/Hong_Kong",
	"Asia/Jakarta", "Asia/Jerusalem", "Asia/Karachi", "Asia/Kathmandu", "Asia/Kolkata",
	"Asia/Manila", "Asia/Riyadh", "Asia/Seoul", "Asia/Shanghai", "Asia/Singapore",
	"Asia/Taipei", "Asia/Tehran", "Asia/Tokyo",
	"Atlantic/Reykjavik",
	"Australia/Adelaide", "Australia/Brisbane", "Australia/Melbourne", "Australia/Perth", "Australia/Sydney",
	"Europe/Amsterdam", "Europe/Athens", "Europe/Berlin", "Europe/Brussels", "Europe/Dublin",
	"Europe/Helsinki", "Europe/Istanbul", "Europe/Kyiv", "Europe/Lisbon", "Europe/London",
	"Europe/Madrid", "Europe/Moscow", "Europe/Oslo", "Europe/Paris", "Europe/Prague",
	"Europe/Rome", "Europe/Stockholm", "Europe/Vienna", "Europe/Warsaw", "Europe/Zurich",
	"Pacific/Auckland", "Pacific/Honolulu",
}

// zoneAliases maps countries and common names that no zone name contains.
var zoneAliases = map[string]string{
	"japan":          "Asia/Tokyo",
	"china":          "Asia/Shanghai",
	"beijing":        "Asia/Shanghai",
	"india":          "Asia/Kolkata",
	"delhi":          "Asia/Kolkata",
	"new delhi":      "Asia/Kolkata",
	"mumbai":         "Asia/Kolkata",
	"korea":          "Asia/Seoul",
	"south korea":    "Asia/Seoul",
	"vietnam":        "Asia/Ho_Chi_Minh",
	"hanoi":          "Asia/Ho_Chi_Minh",
	"saigon":         "Asia/Ho_Chi_Minh",
	"thailand":       "Asia/Bangkok",
	"indonesia":      "Asia/Jakarta",
	"philippines":    "Asia/Manila",
	"israel":         "Asia/Jerusalem",
	"iran":           "Asia/Tehran",
	"pakistan":       "Asia/Karachi",
	"nepal":          "Asia/Kathmandu",
	"uae":            "Asia/Dubai",
	"saudi arabia":   "Asia/Riyadh",
	"egypt":          "Africa/Cairo",
	"nigeria":        "Africa/Lagos",
	"kenya":          "Africa/Nairobi",
	"south africa":   "Africa/Johannesburg",
	"morocco":        "Africa/Casablanca",
	"uk":             "Europe/London",
	"england":        "Europe/London",
	"united kingdom": "Europe/London",
	"ireland":        "Europe/Dublin",
	"france":         "Europe/Paris",
	"germany":        "Europe/Berlin",
	"spain":          "Europe/Madrid",
	"italy":          "Europe/Rome",
	"portugal":       "Europe/Lisbon",
	"netherlands":    "Europe/Amsterdam",
	"belgium":        "Europe/Brussels",
	"switzerland":    "Europe/Zurich",
	"austria":        "Europe/Vienna",
	"poland":         "Europe/Warsaw",
	"czechia":        "Europe/Prague",
	"greece":         "Europe/Athens",
	"turkey":         "Europe/Istanbul",
	"ukraine":        "Europe/Kyiv",
	"kiev":           "Europe/Kyiv",
	"russia":         "Europe/Moscow",
	"sweden":         "Europe/Stockholm",
	"norway":         "Europe/Oslo",
	"finland":        "Europe/Helsinki",
	"iceland":        "Atlantic/Reykjavik",
	"usa":            "America/New_York",
	"us":             "America/New_York",
	"united states":  "America/New_York",
	"nyc":            "America/New_York",
	"san francisco":  "America/Los_Angeles",
	"seattle":        "America/Los_Angeles",
	"la":             "America/Los_Angeles",
	"canada":         "America/Toronto",
	"mexico":         "America/Mexico_City",
	"brazil":         "America/Sao_Paulo",
	"argentina":      "America/Argentina/Buenos_Aires",
	"chile":          "America/Santiago",
	"peru":           "America/Lima",
	"colombia":       "America/Bogota",
	"cuba":           "America/Havana",
	"hawaii":         "Pacific/Honolulu",
	"australia":      "Australia/Sydney",
	"new zealand":    "Pacific/Auckland",
}
