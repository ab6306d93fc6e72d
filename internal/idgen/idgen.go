// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Prefixes for the two ID families minted by this service.
const (
	ChipPrefix   = "ch-"
	WindowPrefix = "win-"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// NewChipID returns a new unique chip ID.
func NewChipID() (string, error) {
	return generate(ChipPrefix)
}

// NewWindowID returns a new unique execution window ID.
func NewWindowID() (string, error) {
	return generate(WindowPrefix)
}

func generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
