package model

// Driver is immutable for the lifetime of a session
type Driver struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Team   string `json:"team"`
	Number int    `json:"number"`
	Color  string `json:"color"`
}
