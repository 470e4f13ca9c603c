// Package sources lists the remote datasets the viewer and capture server
// download on first use.
package sources

const (
	// WorldGeoJSONURL holds the country outlines drawn as the map background.
	WorldGeoJSONURL = "https://raw.githubusercontent.com/johan/world.geo.json/master/countries.geo.json"

	// GeoLiteCityURL is a mirror of the free MaxMind city database used to
	// place endpoints and rank top talkers by country.
	GeoLiteCityURL = "https://github.com/P3TERX/GeoLite.mmdb/raw/download/GeoLite2-City.mmdb"
)
