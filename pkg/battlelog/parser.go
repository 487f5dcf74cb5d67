package battlelog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"tzlogs/pkg/failures"
)

var attrPattern = regexp.MustCompile(`([A-Za-z_][A-Za-z0-9_.:-]*)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"'>/]+))`)

var validTypes = map[string]struct{}{"A": {}, "B": {}, "C": {}, "D": {}}

// ParseFile reads and parses a log stored on disk.
func ParseFile(path string) (*Record, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, failures.Wrap(failures.KindStorage, "battlelog.ParseFile", err)
	}
	return Parse(payload, path)
}

// Parse converts one raw payload into its canonical record.
// A payload holding two BATTLE blocks is cut at the start of the second one.
func Parse(payload []byte, sourcePath string) (*Record, error) {
	text, err := normalize(payload)
	if err != nil {
		return nil, err
	}

	block, err := canonicalBlock(text)
	if err != nil {
		return nil, err
	}

	end := headerEnd(block, 0)
	if end < 0 {
		return nil, failures.Newf(failures.KindParse, "battlelog.Parse", "unterminated BATTLE header")
	}
	header := parseAttrs(block[len("<battle"):end])

	w := newWalker()
	w.walk(block)

	sum := sha256.Sum256([]byte(block))
	rec := &Record{
		SizeBytes:  len(block),
		SHA256:     hex.EncodeToString(sum[:]),
		SourcePath: sourcePath,
		Header:     header,
	}
	applyHeader(rec, header)
	if rec.BattleID == 0 {
		rec.BattleID = idFromPath(sourcePath)
	}

	rec.Participants = w.participantsOut()
	rec.Monsters = w.monstersOut()
	rec.Loot = w.lootOut()
	rec.MapPatch = buildMapPatch(w.mapRows)

	return rec, nil
}

// parseAttrs reads the attributes of a raw tag with lowercase names.
func parseAttrs(tag string) map[string]string {
	out := make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(tag, -1) {
		name := strings.ToLower(m[1])
		if _, ok := out[name]; ok {
			continue
		}
		value := m[2]
		if value == "" {
			value = m[3]
		}
		if value == "" {
			value = m[4]
		}
		out[name] = xmlUnescape(value)
	}
	return out
}

var xmlEntities = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&quot;", `"`, "&apos;", "'", "&amp;", "&")

func xmlUnescape(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	return xmlEntities.Replace(s)
}

func first(attrs map[string]string, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(attrs[n]); v != "" {
			return v
		}
	}
	return ""
}

func applyHeader(rec *Record, header map[string]string) {
	rec.BattleID = toInt64(first(header, "i", "id", "battle_id"))
	rec.Turns = toInt(header["turn"])

	if ts := toInt64(header["t2"]); ts > 0 {
		rec.Timestamp = time.Unix(ts, 0).UTC()
	}

	if f := strings.ToUpper(strings.TrimSpace(header["f"])); f != "" {
		if _, ok := validTypes[f]; ok {
			rec.Type = f
		}
	}

	note := strings.Split(header["note"], ",")
	if len(note) >= 2 {
		rec.Location = Location{X: toInt(note[0]), Y: toInt(note[1])}
	}
	if len(note) >= 3 {
		if start := toInt64(note[2]); start > 0 {
			t := time.Unix(start, 0).UTC()
			rec.StartTime = &t
		}
	}
}

func idFromPath(path string) int64 {
	if path == "" {
		return 0
	}
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	return toInt64(base)
}

type stackEntry struct {
	name  string
	actor bool
}

type participantState struct {
	p           Participant
	loot        map[LootKind]lootBag
	firstTurn   int
	escapedTurn *int
}

type monsterState struct {
	kind  string
	spec  string
	side  int
	level int
	seen  bool
}

type pickup struct {
	id   string
	kind LootKind
	name string
	qty  int
}

// walker consumes the token stream of one BATTLE element.
type walker struct {
	stack       []stackEntry
	actors      []string
	turnDepth   int
	turnSeq     int
	currentTurn int
	firstTurn   int

	mapRows      []string
	objects      map[string]struct{}
	participants map[string]*participantState
	order        []string
	monsters     map[string]*monsterState
	lastHP       map[string]int
	pickupIDs    map[string]struct{}
	pickups      []pickup
}

func newWalker() *walker {
	return &walker{
		objects:      make(map[string]struct{}),
		participants: make(map[string]*participantState),
		monsters:     make(map[string]*monsterState),
		lastHP:       make(map[string]int),
		pickupIDs:    make(map[string]struct{}),
	}
}

// walk reads tokens until the end of the block. A malformed or truncated tail stops
// the walk and keeps everything read so far.
func (w *walker) walk(block string) {
	dec := xml.NewDecoder(strings.NewReader(block))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity

	for {
		tok, err := dec.Token()
		if err != nil {
			return
		}

		switch t := tok.(type) {
		case xml.StartElement:
			w.start(strings.ToLower(t.Name.Local), attrMap(t.Attr))
		case xml.EndElement:
			w.end()
		}
	}
}

func attrMap(attrs []xml.Attr) map[string]string {
	out := make(map[string]string, len(attrs))
	for _, a := range attrs {
		name := strings.ToLower(a.Name.Local)
		if _, ok := out[name]; !ok {
			out[name] = a.Value
		}
	}
	return out
}

func (w *walker) start(name string, attrs map[string]string) {
	entry := stackEntry{name: name}

	switch name {
	case "turn":
		w.turnDepth++
		w.turnSeq++
		n := toInt(first(attrs, "turn", "n", "num"))
		if n <= 0 {
			n = w.turnSeq
		}
		w.currentTurn = n
		if w.firstTurn == 0 {
			w.firstTurn = n
		}
	case "user":
		login := strings.TrimSpace(attrs["login"])
		if w.turnDepth == 0 {
			w.headerUser(login, attrs)
		} else {
			w.turnUser(login, attrs)
			entry.actor = true
			w.actors = append(w.actors, login)
		}
	case "a":
		if w.turnDepth > 0 && len(w.actors) > 0 {
			w.action(w.actors[len(w.actors)-1], attrs)
		}
	case "map":
		if w.turnSeq == 0 {
			if v, ok := attrs["v"]; ok {
				w.mapRows = append(w.mapRows, v)
			}
		}
	case "o":
		if id := strings.TrimSpace(attrs["id"]); id != "" {
			w.objects[id] = struct{}{}
		}
	}

	w.stack = append(w.stack, entry)
}

func (w *walker) end() {
	if len(w.stack) == 0 {
		return
	}
	entry := w.stack[len(w.stack)-1]
	w.stack = w.stack[:len(w.stack)-1]

	if entry.actor && len(w.actors) > 0 {
		w.actors = w.actors[:len(w.actors)-1]
	}
	if entry.name == "turn" && w.turnDepth > 0 {
		w.turnDepth--
	}
}

func (w *walker) snapshot(login string, attrs map[string]string) {
	if hp, ok := attrs["hp"]; ok && strings.TrimSpace(hp) != "" {
		w.lastHP[login] = toInt(hp)
	}
}

func (w *walker) headerUser(login string, attrs map[string]string) {
	if login == "" {
		return
	}

	if IsMonster(login) {
		w.registerMonster(login, attrs)
	} else if _, ok := w.participants[login]; !ok {
		w.participants[login] = newParticipantState(login, attrs)
		w.order = append(w.order, login)
	}

	w.snapshot(login, attrs)
}

func (w *walker) turnUser(login string, attrs map[string]string) {
	if login == "" {
		return
	}

	if IsMonster(login) {
		w.registerMonster(login, attrs).seen = true
	} else if ps, ok := w.participants[login]; ok && ps.firstTurn == 0 {
		ps.firstTurn = w.currentTurn
	}

	w.snapshot(login, attrs)
}

func newParticipantState(login string, attrs map[string]string) *participantState {
	return &participantState{
		p: Participant{
			Login:      login,
			Clan:       strings.TrimSpace(attrs["clan"]),
			Side:       toInt(attrs["side"]),
			Profession: first(attrs, "pro", "profession"),
			Gender:     toInt(first(attrs, "gender", "man")),
			Level:      toInt(first(attrs, "level", "lvl")),
			RankPoints: toInt(first(attrs, "rank_points", "rank")),
			PvePoints:  toInt(first(attrs, "pve_points", "pve")),
			Damage: DamageTotals{
				VsMonsters: make(map[string]int),
				VsPlayers:  make(map[string]int),
			},
		},
		loot: map[LootKind]lootBag{
			LootResource:    {},
			LootMonsterPart: {},
			LootOther:       {},
		},
	}
}

func (w *walker) registerMonster(login string, attrs map[string]string) *monsterState {
	if m, ok := w.monsters[login]; ok {
		if m.level == 0 {
			m.level = toInt(first(attrs, "level", "lvl"))
		}
		return m
	}

	m := &monsterState{
		kind:  MonsterKind(login),
		spec:  MonsterSpec(login, attrs),
		side:  toInt(attrs["side"]),
		level: toInt(first(attrs, "level", "lvl")),
	}
	w.monsters[login] = m
	return m
}

func (w *walker) markSeen(login string) {
	if IsMonster(login) {
		w.registerMonster(login, nil).seen = true
	}
}

// action applies one <a> element of actor's turn block.
func (w *walker) action(actor string, attrs map[string]string) {
	switch toInt(attrs["t"]) {
	case 5:
		target := strings.TrimSpace(attrs["login"])
		if target == "" {
			return
		}
		w.markSeen(target)
		if target == actor {
			return
		}
		ps, ok := w.participants[actor]
		if !ok {
			return
		}
		bucket := ps.p.Damage.VsPlayers
		if IsMonster(target) {
			bucket = ps.p.Damage.VsMonsters
		}
		for name, v := range ParseHP(attrs["hp"]).Buckets() {
			bucket[name] += v
		}
	case 7:
		w.lastHP[actor] = 0
	case 8:
		w.pickup(actor, attrs)
	case 9:
		if ps, ok := w.participants[actor]; ok {
			turn := w.currentTurn
			ps.escapedTurn = &turn
		}
	case 20:
		if strings.TrimSpace(attrs["code"]) != "7" {
			return
		}
		victim := strings.TrimSpace(attrs["login"])
		if victim == "" {
			return
		}
		w.markSeen(victim)
		w.lastHP[victim] = 0
		if victim == actor {
			return
		}
		if ps, ok := w.participants[actor]; ok {
			if IsMonster(victim) {
				ps.p.Kills.Monsters++
			} else {
				ps.p.Kills.Players++
			}
		}
	}
}

func (w *walker) pickup(actor string, attrs map[string]string) {
	id := strings.TrimSpace(attrs["id"])
	if id != "" {
		if _, dup := w.pickupIDs[id]; dup {
			return
		}
		w.pickupIDs[id] = struct{}{}
	}

	name := strings.TrimSpace(first(attrs, "txt", "name"))
	if name == "" {
		return
	}
	qty := toInt(attrs["count"])
	if qty <= 0 {
		qty = 1
	}
	kind := ClassifyLoot(name)

	w.pickups = append(w.pickups, pickup{id: id, kind: kind, name: name, qty: qty})
	if ps, ok := w.participants[actor]; ok {
		ps.loot[kind].add(name, qty)
	}
}

func (w *walker) participantsOut() []Participant {
	out := make([]Participant, 0, len(w.order))
	for _, login := range w.order {
		ps := w.participants[login]
		p := ps.p

		p.Survived = true
		if hp, ok := w.lastHP[login]; ok && hp <= 0 {
			p.Survived = false
		}

		switch {
		case ps.escapedTurn != nil:
			p.Intervened = Intervention{State: IntervenedEscaped, Turn: ps.escapedTurn}
		case ps.firstTurn > 0 && w.firstTurn > 0 && ps.firstTurn > w.firstTurn:
			turn := ps.firstTurn
			p.Intervened = Intervention{State: IntervenedJoined, Turn: &turn}
		default:
			p.Intervened = Intervention{State: IntervenedNone}
		}

		p.Loot = ParticipantLoot{
			Resources:    ps.loot[LootResource].sorted(),
			MonsterParts: ps.loot[LootMonsterPart].sorted(),
			Other:        ps.loot[LootOther].sorted(),
		}
		out = append(out, p)
	}
	return out
}

type monsterKey struct {
	kind string
	spec string
	side int
}

func (w *walker) monstersOut() []MonsterAggregate {
	groups := make(map[monsterKey]*MonsterAggregate)
	for _, m := range w.monsters {
		if !m.seen {
			continue
		}
		key := monsterKey{kind: m.kind, spec: m.spec, side: m.side}
		agg, ok := groups[key]
		if !ok {
			groups[key] = &MonsterAggregate{Kind: m.kind, Spec: m.spec, Side: m.side, Count: 1, MinLevel: m.level, MaxLevel: m.level}
			continue
		}
		agg.Count++
		agg.MinLevel = min(agg.MinLevel, m.level)
		agg.MaxLevel = max(agg.MaxLevel, m.level)
	}

	out := make([]MonsterAggregate, 0, len(groups))
	for _, agg := range groups {
		out = append(out, *agg)
	}
	sortMonsters(out)
	return out
}

type lootKeyT struct {
	kind LootKind
	name string
}

func (w *walker) lootOut() []LootEntry {
	groups := make(map[lootKeyT]*LootEntry)
	var order []lootKeyT

	for _, p := range w.pickups {
		key := lootKeyT{kind: p.kind, name: lootKey(p.name)}
		entry, ok := groups[key]
		if !ok {
			entry = &LootEntry{Kind: p.kind, Name: p.name}
			groups[key] = entry
			order = append(order, key)
		}
		entry.Qty += p.qty
		entry.Pickups++
		if _, onMap := w.objects[p.id]; onMap && p.id != "" {
			entry.OnMap++
		}
	}

	out := make([]LootEntry, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	sortLoot(out)
	return out
}

func (r *Record) String() string {
	return fmt.Sprintf("battle %d (%s, %d turns, %d participants)", r.BattleID, r.Type, r.Turns, len(r.Participants))
}
