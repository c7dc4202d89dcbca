package gpio

import (
	"strconv"
	"strings"
)

// lineUnresolved marks a designator the board map could not translate.
const lineUnresolved = -1

// BoardMap translates user-facing pin designators ("D4", "A0", "17") into
// hardware line numbers for a particular board.
type BoardMap interface {
	// Resolve returns the hardware line for a designator, or lineUnresolved.
	Resolve(name string) int
}

// nodemcuLines maps the silkscreen labels of NodeMCU-style boards onto the
// underlying controller lines.
var nodemcuLines = map[string]int{
	"D0":  16,
	"D1":  5,
	"D2":  4,
	"D3":  0,
	"D4":  2,
	"D5":  14,
	"D6":  12,
	"D7":  13,
	"D8":  15,
	"D9":  3,
	"D10": 1,
	"A0":  17,
}

type nodemcuMap struct{}

type genericMap struct{}

// BoardFor returns the board map for a configured board name. Unknown names
// fall back to the generic map, which treats "D<n>"/"A<n>" as line n.
func BoardFor(name string) BoardMap {
	switch strings.ToLower(name) {
	case "nodemcu", "esp8266":
		return nodemcuMap{}
	default:
		return genericMap{}
	}
}

func (nodemcuMap) Resolve(name string) int {
	key := strings.ToUpper(strings.TrimSpace(name))
	if line, ok := nodemcuLines[key]; ok {
		return line
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 {
		return n
	}
	return lineUnresolved
}

func (genericMap) Resolve(name string) int {
	key := strings.ToUpper(strings.TrimSpace(name))
	if len(key) > 1 && (key[0] == 'D' || key[0] == 'A') {
		key = key[1:]
	}
	if n, err := strconv.Atoi(key); err == nil && n >= 0 {
		return n
	}
	return lineUnresolved
}
