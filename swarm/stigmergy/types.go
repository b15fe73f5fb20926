package stigmergy

import "time"

// Location is a point on the integer grid.
type Location struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Step returns the neighbouring location in direction d.
func (l Location) Step(d Direction) Location {
	switch d {
	case North:
		return Location{X: l.X, Y: l.Y + 1}
	case East:
		return Location{X: l.X + 1, Y: l.Y}
	case South:
		return Location{X: l.X, Y: l.Y - 1}
	case West:
		return Location{X: l.X - 1, Y: l.Y}
	default:
		return l
	}
}

// Signal names a pheromone type. Each signal lives in its own layer.
type Signal string

// Direction is a move on the grid.
type Direction int

const (
	Stay Direction = iota
	North
	East
	South
	West
)

// neighbours is the von Neumann neighbourhood in gradient tie-break order.
var neighbours = [...]Direction{North, East, South, West}

// String implements fmt.Stringer.
func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case East:
		return "east"
	case South:
		return "south"
	case West:
		return "west"
	default:
		return "stay"
	}
}

// Cell is one (location, signal) entry of the field.
type Cell struct {
	Location      Location  `json:"location"`
	Signal        Signal    `json:"signal"`
	Intensity     float64   `json:"intensity"`
	LastTouched   time.Time `json:"last_touched"`
	LastDepositor string    `json:"last_depositor,omitempty"`
}

// Bounds restricts the field to an inclusive rectangle.
type Bounds struct {
	MinX int `yaml:"min_x" json:"min_x"`
	MinY int `yaml:"min_y" json:"min_y"`
	MaxX int `yaml:"max_x" json:"max_x"`
	MaxY int `yaml:"max_y" json:"max_y"`
}

// Contains reports whether l lies inside b.
func (b Bounds) Contains(l Location) bool {
	return l.X >= b.MinX && l.X <= b.MaxX && l.Y >= b.MinY && l.Y <= b.MaxY
}
