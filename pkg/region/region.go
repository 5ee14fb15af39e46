// Package region maps a node's country and city to a placement region.
package region

import "strings"

// Global is returned for locations missing from the table.
const Global = "global"

var (
	usCities = map[string]string{
		"New York":        "us-east-1",
		"Washington D.C.": "us-east-1",
		"San Francisco":   "us-west-1",
		"Los Angeles":     "us-west-2",
		"Chicago":         "us-central-1",
		"Dallas":          "us-central-1",
		"Miami":           "us-south-1",
		"Seattle":         "us-west-2",
	}
	caCities = map[string]string{
		"Toronto":   "ca-central-1",
		"Montreal":  "ca-east-1",
		"Vancouver": "ca-west-1",
	}
	deCities = map[string]string{"Frankfurt": "eu-central-1", "Berlin": "eu-central-1"}
	gbCities = map[string]string{"London": "eu-west-2"}
	frCities = map[string]string{"Paris": "eu-west-3"}
	ieCities = map[string]string{"Dublin": "eu-west-1"}
	sgCities = map[string]string{"Singapore": "ap-southeast-1"}
	jpCities = map[string]string{"Tokyo": "ap-northeast-1", "Osaka": "ap-northeast-3"}
	auCities = map[string]string{"Sydney": "ap-southeast-2"}
	brCities = map[string]string{"São Paulo": "sa-east-1"}
)

// regions is read-only after package init. Countries are keyed by both the
// full name and the ISO code.
var regions = map[string]map[string]string{
	"United States":  usCities,
	"US":             usCities,
	"Canada":         caCities,
	"CA":             caCities,
	"Germany":        deCities,
	"DE":             deCities,
	"United Kingdom": gbCities,
	"GB":             gbCities,
	"France":         frCities,
	"FR":             frCities,
	"Ireland":        ieCities,
	"IE":             ieCities,
	"Singapore":      sgCities,
	"SG":             sgCities,
	"Japan":          jpCities,
	"JP":             jpCities,
	"Australia":      auCities,
	"AU":             auCities,
	"Brazil":         brCities,
	"BR":             brCities,
}

// Determine returns the region for a country/city pair, or Global.
func Determine(country, city string) string {
	cities, ok := regions[strings.TrimSpace(country)]
	if !ok {
		return Global
	}
	if region, ok := cities[strings.TrimSpace(city)]; ok {
		return region
	}
	return Global
}
