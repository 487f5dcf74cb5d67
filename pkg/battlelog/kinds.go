package battlelog

import (
	"sort"
	"strings"
)

const UnknownKind = "unknown"

// kindPrefixes maps a monster login prefix (after '$') to its kind tag.
var kindPrefixes = map[string]string{
	"rat":     "rat",
	"dog":     "dog",
	"wolf":    "wolf",
	"bear":    "bear",
	"crab":    "crab",
	"spider":  "spider",
	"scorp":   "scorpion",
	"snake":   "snake",
	"mutant":  "mutant",
	"zomb":    "zombie",
	"ghoul":   "ghoul",
	"robot":   "robot",
	"drone":   "drone",
	"turret":  "turret",
	"bandit":  "bandit",
	"raider":  "raider",
	"soldier": "soldier",
	"sniper":  "sniper",
	"guard":   "guard",
	"cyborg":  "cyborg",
	"beetle":  "beetle",
	"worm":    "worm",
	"mole":    "mole",
	"bat":     "bat",
	"lizard":  "lizard",
	"toad":    "toad",
	"boar":    "boar",
	"hyena":   "hyena",
	"jackal":  "jackal",
	"vulture": "vulture",
	"mantis":  "mantis",
	"golem":   "golem",
	"phantom": "phantom",
	"shaman":  "shaman",
	"hunter":  "hunter",
	"brute":   "brute",
	"stalker": "stalker",
	"queen":   "queen",
}

// Kinds returns the closed set of kind tags, unknown excluded.
func Kinds() []string {
	seen := make(map[string]struct{}, len(kindPrefixes))
	var out []string
	for _, kind := range kindPrefixes {
		if _, ok := seen[kind]; !ok {
			seen[kind] = struct{}{}
			out = append(out, kind)
		}
	}
	sort.Strings(out)
	return out
}

// IsMonster reports whether a login belongs to a monster.
func IsMonster(login string) bool {
	return strings.HasPrefix(login, "$")
}

// MonsterKind resolves the kind of a monster login by its longest matching prefix.
func MonsterKind(login string) string {
	name := strings.ToLower(strings.TrimPrefix(login, "$"))

	best, bestLen := UnknownKind, 0
	for prefix, kind := range kindPrefixes {
		if len(prefix) > bestLen && strings.HasPrefix(name, prefix) {
			best, bestLen = kind, len(prefix)
		}
	}
	return best
}

// MonsterSpec returns the specialization marker of a monster: def, then color, then
// the non numeric suffix after the last underscore of its login.
func MonsterSpec(login string, attrs map[string]string) string {
	if def := strings.TrimSpace(attrs["def"]); def != "" {
		return def
	}
	if color := strings.TrimSpace(attrs["color"]); color != "" {
		return color
	}

	name := strings.TrimPrefix(login, "$")
	i := strings.LastIndex(name, "_")
	if i < 0 || i == len(name)-1 {
		return ""
	}

	suffix := name[i+1:]
	if strings.Trim(suffix, "0123456789") == "" {
		return ""
	}
	return strings.ToLower(suffix)
}
