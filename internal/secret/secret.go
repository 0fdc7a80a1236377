// Package secret generates and masks API-key secrets.
//
// A secret has the form "<prefix>-<body>" where body is Length characters
// drawn uniformly from an alphabet using a cryptographically secure source.
package secret

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	// Length is the number of generated characters after the prefix.
	Length = 32

	// DefaultPrefix is used when no prefix is configured.
	DefaultPrefix = "keyhub"

	// DefaultAlphabet is lowercase alphanumerics, 36 symbols.
	DefaultAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

	// Bullet is the placeholder rune used by Mask.
	Bullet = "•"

	// maxMaskRun caps the bullet run so masked secrets of different lengths
	// render with a bounded width.
	maxMaskRun = 32

	separator = "-"
)

// Generator produces new secrets. It is safe for concurrent use.
type Generator struct {
	prefix   string
	alphabet string
}

// NewGenerator validates prefix and alphabet and returns a Generator. Empty
// values fall back to DefaultPrefix and DefaultAlphabet.
func NewGenerator(prefix, alphabet string) (*Generator, error) {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if alphabet == "" {
		alphabet = DefaultAlphabet
	}
	if strings.Contains(prefix, separator) {
		return nil, fmt.Errorf("secret prefix %q must not contain %q", prefix, separator)
	}
	if n := utf8.RuneCountInString(alphabet); n < 2 || n > 255 {
		return nil, fmt.Errorf("secret alphabet must have between 2 and 255 symbols, got %d", n)
	}
	if strings.Contains(alphabet, separator) {
		return nil, errors.New("secret alphabet must not contain the separator")
	}
	seen := make(map[rune]bool, len(alphabet))
	for _, r := range alphabet {
		if seen[r] {
			return nil, fmt.Errorf("secret alphabet has duplicate symbol %q", r)
		}
		seen[r] = true
	}
	return &Generator{prefix: prefix, alphabet: alphabet}, nil
}

// MustGenerator is like NewGenerator but panics on invalid input. Intended
// for tests and package-level defaults.
func MustGenerator(prefix, alphabet string) *Generator {
	g, err := NewGenerator(prefix, alphabet)
	if err != nil {
		panic(err)
	}
	return g
}

// Prefix returns the configured prefix.
func (g *Generator) Prefix() string { return g.prefix }

// Alphabet returns the configured alphabet.
func (g *Generator) Alphabet() string { return g.alphabet }

// Generate returns a fresh secret.
func (g *Generator) Generate() (string, error) {
	body, err := gonanoid.Generate(g.alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return g.prefix + separator + body, nil
}

// Matches reports whether s has this generator's prefix followed by exactly
// Length characters from its alphabet.
func (g *Generator) Matches(s string) bool {
	body, ok := strings.CutPrefix(s, g.prefix+separator)
	if !ok || utf8.RuneCountInString(body) != Length {
		return false
	}
	for _, r := range body {
		if !strings.ContainsRune(g.alphabet, r) {
			return false
		}
	}
	return true
}

// Mask returns a display form of s that keeps everything up to the first "-"
// and replaces the remainder with at most 32 bullets. A value without a
// separator is returned unchanged since its structure is unknown.
func Mask(s string) string {
	prefix, remainder, found := strings.Cut(s, separator)
	if !found {
		return s
	}
	n := min(utf8.RuneCountInString(remainder), maxMaskRun)
	return prefix + separator + strings.Repeat(Bullet, n)
}
