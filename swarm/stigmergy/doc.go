// Package stigmergy implements a sparse pheromone field that lets agents
// coordinate indirectly: they deposit signals at grid locations, the field
// decays and diffuses them each cycle, and other agents follow the gradient.
package stigmergy
