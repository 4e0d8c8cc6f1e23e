package scan

import "fmt"

// MovementMode is the direction of a gate movement.
type MovementMode string

const (
	Entry MovementMode = "ENTRADA"
	Exit  MovementMode = "SAIDA"
)

// Valid reports whether m is one of the two known directions.
func (m MovementMode) Valid() bool {
	return m == Entry || m == Exit
}

// ParseMode converts a wire value into a MovementMode.
func ParseMode(s string) (MovementMode, error) {
	m := MovementMode(s)
	if !m.Valid() {
		return "", fmt.Errorf("unknown movement mode %q", s)
	}
	return m, nil
}
