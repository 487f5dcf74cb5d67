package battlelog

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
)

// buildMapPatch hashes the ordered MAP rows seen before the first turn.
func buildMapPatch(rows []string) MapPatch {
	if len(rows) == 0 {
		return MapPatch{}
	}

	joined := []byte(strings.Join(rows, "\n"))
	sum := sha256.Sum256(joined)

	return MapPatch{
		ID:       hex.EncodeToString(sum[:])[:16],
		Checksum: fmt.Sprintf("%08x", crc32.ChecksumIEEE(joined)),
	}
}

func sortMonsters(ms []MonsterAggregate) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Kind != ms[j].Kind {
			return ms[i].Kind < ms[j].Kind
		}
		if ms[i].Spec != ms[j].Spec {
			return ms[i].Spec < ms[j].Spec
		}
		return ms[i].Side < ms[j].Side
	})
}

func sortLoot(entries []LootEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Kind != entries[j].Kind {
			return entries[i].Kind < entries[j].Kind
		}
		return entries[i].Name < entries[j].Name
	})
}
