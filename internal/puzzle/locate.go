package puzzle

import "fmt"

// NotFound is the offset reported when a word is absent from a haystack.
const NotFound = -1

// Match is the result of locating a word in a haystack.
type Match struct {
	Offset int
}

// Found reports whether the word was located.
func (m Match) Found() bool { return m.Offset != NotFound }

// A Locator finds the start offset of word within haystack, a sequence of
// single-character cells. Each rune of word is compared against a whole cell.
type Locator interface {
	Locate(word string, haystack []string) Match
}

// ForwardScan is the single-pass matcher existing puzzle data was indexed
// with. It advances one cursor over the haystack; on a mismatch it drops the
// tentative match and resets to the first letter of the word without testing
// the current cell again. A word whose prefix overlaps itself can therefore be
// missed: "aba" is not found in "aaba".
type ForwardScan struct{}

func (ForwardScan) Locate(word string, haystack []string) Match {
	want := letters(word)
	if len(want) == 0 {
		return Match{Offset: NotFound}
	}

	next, start := 0, NotFound
	for i, cell := range haystack {
		if cell != want[next] {
			next, start = 0, NotFound
			continue
		}
		if start == NotFound {
			start = i
		}
		next++
		if next == len(want) {
			return Match{Offset: start}
		}
	}
	return Match{Offset: NotFound}
}

// RestartScan retries from the cell after every failed start, so it finds
// the leftmost contiguous occurrence of the word. It changes output for words
// ForwardScan misses.
type RestartScan struct{}

func (RestartScan) Locate(word string, haystack []string) Match {
	want := letters(word)
	if len(want) == 0 {
		return Match{Offset: NotFound}
	}

	for start := 0; start+len(want) <= len(haystack); start++ {
		i := 0
		for i < len(want) && haystack[start+i] == want[i] {
			i++
		}
		if i == len(want) {
			return Match{Offset: start}
		}
	}
	return Match{Offset: NotFound}
}

// LocatorByName returns the locator registered under name: "forward" (also
// the empty name) or "restart".
func LocatorByName(name string) (Locator, error) {
	switch name {
	case "", "forward":
		return ForwardScan{}, nil
	case "restart":
		return RestartScan{}, nil
	}
	return nil, fmt.Errorf("unknown matcher %q", name)
}

// Locate runs ForwardScan.
func Locate(word string, haystack []string) Match {
	return ForwardScan{}.Locate(word, haystack)
}

func letters(word string) []string {
	out := make([]string, 0, len(word))
	for _, r := range word {
		out = append(out, string(r))
	}
	return out
}
