package model

type GeoPoint struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

type CircuitPoint struct {
	Lat  float64 `json:"lat" yaml:"lat"`
	Lng  float64 `json:"lng" yaml:"lng"`
	Name string  `json:"name" yaml:"name"`
}

// Circuit is the ordered track outline
type Circuit struct {
	Name   string         `json:"name,omitempty" yaml:"name"`
	Points []CircuitPoint `json:"points" yaml:"points"`
}
