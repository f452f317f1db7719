// Package fixture generates the payloads sent to receivers under test.
package fixture

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// DefaultLength is the payload length used when none is requested.
const DefaultLength = 8

const alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Words and Emojis are the fixed sets Unicode payloads are drawn from.
// They exercise multi-byte transport; they are not meant to be random text.
var (
	Words  = []string{"été", "café", "éléphant", "français", "ñandú"}
	Emojis = []string{"🚀", "✨", "🧠", "🌍", "🎉", "🦄", "📦", "🐍", "😎", "🔥", "💻"}
)

// Generator produces payloads from its own random source.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// New returns a Generator seeded with seed. Equal seeds yield equal sequences.
func New(seed uint64) *Generator {
	return &Generator{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// ASCII returns n characters drawn uniformly from letters and digits.
// A non-positive n yields DefaultLength characters.
func (g *Generator) ASCII(n int) string {
	if n <= 0 {
		n = DefaultLength
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphanumeric[g.intN(len(alphanumeric))])
	}
	return b.String()
}

// Unicode returns an accented word, a space and an emoji.
func (g *Generator) Unicode() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Words[g.intN(len(Words))] + " " + Emojis[g.intN(len(Emojis))]
}

func (g *Generator) intN(n int) int {
	if g.rnd == nil {
		return rand.IntN(n)
	}
	return g.rnd.IntN(n)
}

var global Generator

// RandomASCII returns n random letters and digits from the process-wide source.
func RandomASCII(n int) string { return global.ASCII(n) }

// RandomUnicode returns a random Unicode payload from the process-wide source.
func RandomUnicode() string { return global.Unicode() }
