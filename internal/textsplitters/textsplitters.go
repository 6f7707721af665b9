// Package textsplitters implements the chunking strategies available to the
// split_text tool (internal/tools/textsplitter) when breaking a document
// down into embeddable units.
package textsplitters

import (
	"fmt"
	"strings"
)

// Kind names a splitting strategy.
type Kind string

const (
	KindFixed Kind = "fixed"
)

// Unit names what Size/Overlap count in.
type Unit string

const (
	UnitChars  Unit = "chars"
	UnitTokens Unit = "tokens"
)

// Tokenizer splits text into tokens and joins a token slice back to text.
type Tokenizer interface {
	Tokenize(text string) []string
	Join(tokens []string) string
}

// WhitespaceTokenizer splits on runs of whitespace.
type WhitespaceTokenizer struct{}

func (WhitespaceTokenizer) Tokenize(text string) []string {
	return strings.Fields(text)
}

func (WhitespaceTokenizer) Join(tokens []string) string {
	return strings.Join(tokens, " ")
}

// FixedConfig configures the fixed-size splitter.
type FixedConfig struct {
	Unit      Unit
	Size      int
	Overlap   int
	Tokenizer Tokenizer
}

// Config selects and configures a splitter.
type Config struct {
	Kind  Kind
	Fixed FixedConfig
}

// Splitter breaks text into an ordered slice of chunks.
type Splitter interface {
	Split(text string) []string
}

// NewFromConfig builds the Splitter named by cfg.Kind.
func NewFromConfig(cfg Config) (Splitter, error) {
	switch cfg.Kind {
	case KindFixed, "":
		f := cfg.Fixed
		if f.Size <= 0 {
			return nil, fmt.Errorf("textsplitters: size must be positive")
		}
		if f.Overlap < 0 || f.Overlap >= f.Size {
			return nil, fmt.Errorf("textsplitters: overlap must be in [0, size)")
		}
		if f.Unit == UnitTokens && f.Tokenizer == nil {
			f.Tokenizer = WhitespaceTokenizer{}
		}
		return fixedSplitter{cfg: f}, nil
	default:
		return nil, fmt.Errorf("textsplitters: unknown kind %q", cfg.Kind)
	}
}

type fixedSplitter struct {
	cfg FixedConfig
}

func (s fixedSplitter) Split(text string) []string {
	if s.cfg.Unit == UnitTokens {
		return splitUnits(s.cfg.Tokenizer.Tokenize(text), s.cfg.Size, s.cfg.Overlap, s.cfg.Tokenizer.Join)
	}
	runes := []rune(text)
	units := make([]string, len(runes))
	for i, r := range runes {
		units[i] = string(r)
	}
	return splitUnits(units, s.cfg.Size, s.cfg.Overlap, func(parts []string) string {
		return strings.Join(parts, "")
	})
}

func splitUnits(units []string, size, overlap int, join func([]string) string) []string {
	if len(units) == 0 {
		return []string{}
	}
	if len(units) <= size {
		return []string{join(units)}
	}
	step := size - overlap
	var chunks []string
	for start := 0; start < len(units); start += step {
		end := start + size
		if end > len(units) {
			end = len(units)
		}
		chunks = append(chunks, join(units[start:end]))
		if end == len(units) {
			break
		}
	}
	return chunks
}
