package model

import "fmt"

// Location is a position on a map: the map path plus tile coordinates.
type Location struct {
	Map string `json:"map"`
	X   int    `json:"x"`
	Y   int    `json:"y"`
}

func (l Location) IsZero() bool { return l.Map == "" }

func (l Location) String() string {
	return fmt.Sprintf("%s@%d,%d", l.Map, l.X, l.Y)
}
