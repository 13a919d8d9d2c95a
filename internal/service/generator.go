package service

import (
	"fmt"
	"regexp"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// codeAlphabet is the 62-character alphanumeric alphabet short codes are
// drawn from. Custom codes additionally allow "-" and "_".
const codeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// DefaultCodeLength gives a 62^7 keyspace, large enough that generated
// codes collide only in theory. The create path still handles collisions.
const DefaultCodeLength = 7

var codePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{2,30}$`)

// CodeGenerator produces random short codes from a cryptographically
// strong source.
type CodeGenerator struct {
	length int
}

func NewCodeGenerator(length int) *CodeGenerator {
	if length <= 0 {
		length = DefaultCodeLength
	}

	return &CodeGenerator{
		length: length,
	}
}

// Generate returns a fresh random code. Uniqueness is the caller's concern.
func (g *CodeGenerator) Generate() (string, error) {
	const op = "service.CodeGenerator.Generate"

	code, err := gonanoid.Generate(codeAlphabet, g.length)
	if err != nil {
		return "", fmt.Errorf("%s: failed to generate short code: %w", op, err)
	}

	return code, nil
}
