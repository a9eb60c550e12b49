package geo

import "strings"

// CityCenter is used when an address names no known area.
var CityCenter = Point{Lat: 24.8607, Lon: 67.0011}

// Area is a named neighbourhood of the home city.
type Area struct {
	Name    string
	Aliases []string
	Point   Point
}

// Areas is matched in order, so longer names that contain shorter ones come first.
var Areas = []Area{
	{Name: "Saddar", Aliases: []string{"saddar"}, Point: Point{24.8607, 67.0011}},
	{Name: "Clifton", Aliases: []string{"clifton"}, Point: Point{24.8123, 66.9967}},
	{Name: "Defence", Aliases: []string{"defence", "dha"}, Point: Point{24.8047, 67.0281}},
	{Name: "Gulshan-e-Iqbal", Aliases: []string{"gulshan"}, Point: Point{24.8918, 67.0281}},
	{Name: "North Nazimabad", Aliases: []string{"north nazimabad"}, Point: Point{24.9056, 67.0822}},
	{Name: "Federal B Area", Aliases: []string{"federal b area", "fb area"}, Point: Point{24.9142, 67.0810}},
	{Name: "PECHS", Aliases: []string{"pechs", "pecs"}, Point: Point{24.8738, 67.0378}},
	{Name: "Gulberg", Aliases: []string{"gulberg"}, Point: Point{24.9167, 67.0667}},
	{Name: "Malir", Aliases: []string{"malir"}, Point: Point{24.9000, 67.1000}},
	{Name: "Korangi", Aliases: []string{"korangi"}, Point: Point{24.8500, 67.0833}},
	{Name: "Landhi", Aliases: []string{"landhi"}, Point: Point{24.8833, 67.0667}},
	{Name: "Orangi", Aliases: []string{"orangi"}, Point: Point{24.9333, 67.0333}},
	{Name: "Gulistan-e-Johar", Aliases: []string{"johar", "gulistan"}, Point: Point{24.9180, 67.1250}},
}

// FindArea returns the first area named in text.
func FindArea(text string) (Area, bool) {
	lower := strings.ToLower(text)
	for _, a := range Areas {
		for _, alias := range a.Aliases {
			if containsWord(lower, alias) {
				return a, true
			}
		}
	}
	return Area{}, false
}

// Geocode resolves an address to coordinates, defaulting to CityCenter.
func Geocode(address string) (Point, bool) {
	if a, ok := FindArea(address); ok {
		return a.Point, true
	}
	return CityCenter, false
}

// containsWord matches alias at word boundaries so "dha" does not hit "dhaka".
func containsWord(s, word string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], word)
		if j < 0 {
			return false
		}
		start := i + j
		end := start + len(word)
		if (start == 0 || !isLetter(s[start-1])) && (end == len(s) || !isLetter(s[end])) {
			return true
		}
		i = start + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}
