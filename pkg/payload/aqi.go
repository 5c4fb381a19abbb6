package payload

var aqiCategories = []struct {
	below float64
	label string
}{
	{50, "Good"},
	{100, "Acceptable"},
	{150, "Substandard"},
	{200, "Poor"},
	{300, "Bad"},
}

// InterpretAQI returns the category name for an air quality index.
func InterpretAQI(aqi float64) string {
	for _, c := range aqiCategories {
		if aqi < c.below {
			return c.label
		}
	}
	return "Very bad"
}
