package battlelog

import (
	"sort"
	"strings"
)

var resourceNames = toSet(
	"metals",
	"gold",
	"polymers",
	"organic",
	"silicon",
	"radioactive materials",
	"gems",
	"venom",
	"crystals",
	"uranium",
	"titanium",
	"sulfur",
)

var monsterPartNames = toSet(
	"rat tail",
	"dog fang",
	"wolf fang",
	"bear claw",
	"bear skin",
	"crab shell",
	"spider silk",
	"scorpion sting",
	"snake skin",
	"mutant eye",
	"bat wing",
	"beetle shell",
	"worm mucus",
	"lizard scale",
	"toad gland",
	"boar tusk",
	"hyena hide",
	"vulture feather",
	"mantis blade",
	"golem core",
	"robot chip",
	"drone battery",
	"zombie brain",
	"ghoul bone",
)

func toSet(names ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}

func lootKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ClassifyLoot places an item name into the resource, monster part or other bucket.
func ClassifyLoot(name string) LootKind {
	key := lootKey(name)
	if _, ok := resourceNames[key]; ok {
		return LootResource
	}
	if _, ok := monsterPartNames[key]; ok {
		return LootMonsterPart
	}
	return LootOther
}

// lootBag accumulates quantities by name keeping the first spelling seen.
type lootBag map[string]*LootItem

func (b lootBag) add(name string, qty int) {
	key := lootKey(name)
	if item, ok := b[key]; ok {
		item.Qty += qty
		return
	}
	b[key] = &LootItem{Name: strings.TrimSpace(name), Qty: qty}
}

func (b lootBag) sorted() []LootItem {
	out := make([]LootItem, 0, len(b))
	for _, item := range b {
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
