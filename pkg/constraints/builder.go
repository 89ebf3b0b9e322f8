package constraints

import (
	"fmt"
	"sort"
	"strings"

	"github.com/arnavshah/bunk-planner-go/pkg/apperr"
	"github.com/arnavshah/bunk-planner-go/pkg/models"
)

// maxHallClasses bounds the subset enumeration of the capacity check
const maxHallClasses = 12

// Options tunes model construction
type Options struct {
	Weights Weights
	// AllowUnassigned adds an unassigned sink instead of failing when
	// campers outnumber eligible capacity.
	AllowUnassigned bool
	// MinConfidence drops parsed requests below this confidence.
	MinConfidence float64
}

// Input carries the scenario-owned state layered over the snapshot
type Input struct {
	// Pins maps camper id to the bunk staff locked them into.
	Pins       map[string]string
	LockGroups []models.LockGroup
}

// typeRank orders request types inside a conflict group. Lower wins.
var typeRank = map[models.RequestType]int{
	models.TypeNotBunkWith:   0,
	models.TypeBunkWith:      1,
	models.TypeAgePreference: 2,
}

type builder struct {
	snap       *models.Snapshot
	opts       Options
	m          *Model
	parent     []int
	groupOf    map[int][]string
	violations []apperr.Violation
}

// Build translates a snapshot into a Model. It fails with EMPTY_INPUT when the
// session has no eligible campers or bunks and with INFEASIBLE, listing every
// violated hard constraint, when no assignment can exist.
func Build(snap *models.Snapshot, in Input, opts Options) (*Model, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if err := opts.Weights.Validate(); err != nil {
		return nil, apperr.Wrap(apperr.CodeInvalidInput, err, "objective weights")
	}

	b := &builder{snap: snap, opts: opts, m: &Model{Session: snap.Session, Weights: opts.Weights}}
	b.collect()
	if len(b.m.Campers) == 0 || len(b.m.Bunks) == 0 {
		return nil, apperr.New(apperr.CodeEmptyInput, "session %s has %d eligible campers and %d bunks",
			snap.Session.ID, len(b.m.Campers), len(b.m.Bunks))
	}

	b.eligibility()
	hard := b.requests()
	b.groups(in.LockGroups)
	for _, r := range hard {
		if r.Type() == models.TypeBunkWith {
			b.union(b.m.camperIndex[r.RequesterID], b.m.camperIndex[r.Target()])
		}
	}
	b.units(in.Pins)
	b.hardRequests(hard)
	b.capacity()

	if len(b.violations) > 0 {
		return nil, apperr.Infeasible(b.violations...)
	}
	return b.m, nil
}

func (b *builder) violate(constraint string, amount int, entities []string, format string, args ...any) {
	b.violations = append(b.violations, apperr.Violation{
		Constraint: constraint,
		Message:    fmt.Sprintf(format, args...),
		Entities:   entities,
		Amount:     amount,
	})
}

func (b *builder) collect() {
	sid := b.snap.Session.ID
	for _, c := range b.snap.Campers {
		if c.Enrolled && c.SessionID == sid {
			b.m.Campers = append(b.m.Campers, c)
		}
	}
	for _, bk := range b.snap.Bunks {
		if bk.SessionID == sid {
			b.m.Bunks = append(b.m.Bunks, bk)
		}
	}
	sort.Slice(b.m.Campers, func(i, j int) bool { return b.m.Campers[i].ID < b.m.Campers[j].ID })
	sort.Slice(b.m.Bunks, func(i, j int) bool { return b.m.Bunks[i].ID < b.m.Bunks[j].ID })

	b.m.camperIndex = make(map[string]int, len(b.m.Campers))
	for i, c := range b.m.Campers {
		b.m.camperIndex[c.ID] = i
	}
	b.m.bunkIndex = make(map[string]int, len(b.m.Bunks))
	for i, bk := range b.m.Bunks {
		b.m.bunkIndex[bk.ID] = i
	}
	b.parent = make([]int, len(b.m.Campers))
	for i := range b.parent {
		b.parent[i] = i
	}
}

func (b *builder) eligibility() {
	b.m.Eligible = make([][]int, len(b.m.Campers))
	for i, c := range b.m.Campers {
		for j, bk := range b.m.Bunks {
			if models.CanOccupy(c, bk, b.m.Session) {
				b.m.Eligible[i] = append(b.m.Eligible[i], j)
			}
		}
		if len(b.m.Eligible[i]) == 0 && !b.opts.AllowUnassigned {
			b.violate(apperr.ConstraintEligibility, 0, []string{c.ID},
				"no eligible bunk for camper %s (%s)", c.ID, c.Gender)
		}
	}
}

// requests filters and resolves requests into soft terms and returns the
// locked winners, which become hard constraints.
func (b *builder) requests() []models.Request {
	var valid []models.Request
	for _, r := range b.snap.Requests {
		if reason := b.skipReason(r); reason != "" {
			b.m.Skipped = append(b.m.Skipped, Skip{ID: r.ID, Reason: reason})
			continue
		}
		valid = append(valid, r)
	}
	sort.Slice(valid, func(i, j int) bool { return valid[i].ID < valid[j].ID })

	winners := resolveConflicts(valid, &b.m.Suppressed)

	var hard []models.Request
	for _, r := range winners {
		if r.Locked {
			hard = append(hard, r)
			continue
		}
		b.m.Terms = append(b.m.Terms, b.term(r))
	}
	return hard
}

func (b *builder) skipReason(r models.Request) string {
	if r.Status != models.RequestResolved {
		return "status " + string(r.Status)
	}
	if r.Preference == nil {
		return "no preference"
	}
	if _, ok := b.m.camperIndex[r.RequesterID]; !ok {
		return "requester not in session"
	}
	if r.Confidence < b.opts.MinConfidence {
		return fmt.Sprintf("confidence %.2f below %.2f", r.Confidence, b.opts.MinConfidence)
	}
	if r.Type() == models.TypeAgePreference {
		return ""
	}
	target := r.Target()
	if target == r.RequesterID {
		return "targets requester"
	}
	if _, ok := b.m.camperIndex[target]; !ok {
		return "target not in session"
	}
	return ""
}

// ResolveConflicts keeps the winner of every conflict group and reports the
// suppressed losers. Requests without a group pass through.
func ResolveConflicts(reqs []models.Request) ([]models.Request, []Skip) {
	var suppressed []Skip
	sorted := append([]models.Request(nil), reqs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	return resolveConflicts(sorted, &suppressed), suppressed
}

// resolveConflicts keeps one request per conflict group using the tie-break
// table: locked first, higher priority, type rank, then lowest id.
func resolveConflicts(reqs []models.Request, suppressed *[]Skip) []models.Request {
	groups := make(map[string][]models.Request)
	var out []models.Request
	for _, r := range reqs {
		if r.ConflictGroupID == "" {
			out = append(out, r)
			continue
		}
		groups[r.ConflictGroupID] = append(groups[r.ConflictGroupID], r)
	}
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		g := groups[k]
		sort.SliceStable(g, func(i, j int) bool { return conflictLess(g[i], g[j]) })
		out = append(out, g[0])
		for _, loser := range g[1:] {
			*suppressed = append(*suppressed, Skip{ID: loser.ID, Reason: fmt.Sprintf("superseded by %s in conflict group %s", g[0].ID, k)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func conflictLess(a, b models.Request) bool {
	if a.Locked != b.Locked {
		return a.Locked
	}
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if ra, rb := typeRank[a.Type()], typeRank[b.Type()]; ra != rb {
		return ra < rb
	}
	return a.ID < b.ID
}

func (b *builder) term(r models.Request) Term {
	t := Term{
		RequestID: r.ID,
		Type:      r.Type(),
		Requester: b.m.camperIndex[r.RequesterID],
		Target:    -1,
		Priority:  r.Priority,
	}
	if target := r.Target(); target != "" {
		t.Target = b.m.camperIndex[target]
	}
	if p, ok := r.Preference.(models.AgePreference); ok {
		t.Direction = p.Direction
	}
	return t
}

func (b *builder) find(i int) int {
	for b.parent[i] != i {
		b.parent[i] = b.parent[b.parent[i]]
		i = b.parent[i]
	}
	return i
}

func (b *builder) union(i, j int) {
	ri, rj := b.find(i), b.find(j)
	if ri == rj {
		return
	}
	if ri < rj {
		b.parent[rj] = ri
	} else {
		b.parent[ri] = rj
	}
}

// groups merges lock groups whose members are all in session. Scenario
// groups replace snapshot groups of the same id.
func (b *builder) groups(extra []models.LockGroup) {
	b.groupOf = make(map[int][]string)
	for _, g := range models.MergeLockGroups(b.snap.LockGroups, extra) {
		idx := make([]int, 0, len(g.Members))
		for _, m := range g.Members {
			i, ok := b.m.camperIndex[m]
			if !ok {
				break
			}
			idx = append(idx, i)
		}
		if len(idx) != len(g.Members) || len(idx) < 2 {
			b.m.Skipped = append(b.m.Skipped, Skip{ID: g.ID, Reason: "lock group not fully in session"})
			continue
		}
		for _, i := range idx[1:] {
			b.union(idx[0], i)
		}
		b.groupOf[idx[0]] = append(b.groupOf[idx[0]], g.ID)
	}
}

func (b *builder) units(pins map[string]string) {
	byRoot := make(map[int][]int)
	for i := range b.m.Campers {
		r := b.find(i)
		byRoot[r] = append(byRoot[r], i)
	}
	roots := make([]int, 0, len(byRoot))
	for r := range byRoot {
		roots = append(roots, r)
	}
	sort.Ints(roots)

	groupsByRoot := make(map[int][]string)
	for first, ids := range b.groupOf {
		r := b.find(first)
		groupsByRoot[r] = append(groupsByRoot[r], ids...)
	}

	b.m.UnitOf = make([]int, len(b.m.Campers))
	load := make([]int, len(b.m.Bunks))
	for _, r := range roots {
		members := byRoot[r]
		sort.Ints(members)
		groups := groupsByRoot[r]
		sort.Strings(groups)
		u := Unit{ID: b.m.Campers[members[0]].ID, Members: members, Pinned: -1, Groups: groups}
		if len(groups) > 0 {
			u.ID = groups[0]
		}
		u.Eligible = b.intersect(members)
		ids := b.camperIDs(members)

		if len(members) > 1 && len(u.Eligible) == 0 && b.allEligible(members) {
			b.violate(apperr.ConstraintLockGroup, 0, ids,
				"lock group %s spans incompatible gender eligibility", u.ID)
		}
		if len(u.Eligible) > 0 && len(members) > 1 {
			largest := 0
			for _, j := range u.Eligible {
				if c := b.m.Bunks[j].Capacity; c > largest {
					largest = c
				}
			}
			if len(members) > largest {
				b.violate(apperr.ConstraintLockGroup, len(members)-largest, ids,
					"lock group %s has %d members but the largest eligible bunk holds %d", u.ID, len(members), largest)
			}
		}
		b.pin(&u, pins, ids)
		if u.Pinned >= 0 {
			load[u.Pinned] += len(members)
		}
		for _, m := range members {
			b.m.UnitOf[m] = len(b.m.Units)
		}
		b.m.Units = append(b.m.Units, u)
	}

	for j, l := range load {
		if over := l - b.m.Bunks[j].Capacity; over > 0 {
			b.violate(apperr.ConstraintCapacity, over, []string{b.m.Bunks[j].ID},
				"locked campers exceed capacity of bunk %s by %d", b.m.Bunks[j].ID, over)
		}
	}
}

func (b *builder) pin(u *Unit, pins map[string]string, ids []string) {
	pinned := ""
	for _, m := range u.Members {
		cid := b.m.Campers[m].ID
		bid, ok := pins[cid]
		if !ok || bid == "" {
			continue
		}
		j, known := b.m.bunkIndex[bid]
		if !known {
			b.violate(apperr.ConstraintPin, 0, []string{cid, bid}, "camper %s is locked to unknown bunk %s", cid, bid)
			continue
		}
		if !contains(b.m.Eligible[m], j) {
			b.violate(apperr.ConstraintPin, 0, []string{cid, bid}, "camper %s is locked to ineligible bunk %s", cid, bid)
			continue
		}
		if pinned != "" && pinned != bid {
			b.violate(apperr.ConstraintPin, 0, ids, "unit %s is locked to both %s and %s", u.ID, pinned, bid)
			continue
		}
		pinned = bid
		u.Pinned = j
	}
	if u.Pinned >= 0 && !contains(u.Eligible, u.Pinned) {
		b.violate(apperr.ConstraintPin, 0, ids, "unit %s cannot share locked bunk %s", u.ID, pinned)
	}
}

func (b *builder) hardRequests(hard []models.Request) {
	for _, r := range hard {
		t := b.term(r)
		switch t.Type {
		case models.TypeNotBunkWith:
			ua, ub := b.m.UnitOf[t.Requester], b.m.UnitOf[t.Target]
			if ua == ub {
				b.violate(apperr.ConstraintLockedRequest, 0, []string{r.ID, r.RequesterID, r.Target()},
					"locked request %s keeps apart campers that must share a bunk", r.ID)
				continue
			}
			if ua > ub {
				ua, ub = ub, ua
			}
			b.m.Separations = append(b.m.Separations, [2]int{ua, ub})
		case models.TypeAgePreference:
			b.m.AgeLocks = append(b.m.AgeLocks, t)
		}
	}
}

// capacity checks Hall's condition over camper eligibility classes: every
// set of classes must fit in the union of bunks they may use.
func (b *builder) capacity() {
	classes := make(map[string][]int) // eligible signature -> bunks
	counts := make(map[string]int)
	for _, el := range b.m.Eligible {
		if len(el) == 0 {
			continue
		}
		key := signature(el)
		classes[key] = el
		counts[key]++
	}
	keys := make([]string, 0, len(classes))
	for k := range classes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	worst, worstMask := 0, 0
	if len(keys) <= maxHallClasses {
		for mask := 1; mask < 1<<len(keys); mask++ {
			campers := 0
			bunks := make(map[int]bool)
			for k, key := range keys {
				if mask&(1<<k) == 0 {
					continue
				}
				campers += counts[key]
				for _, j := range classes[key] {
					bunks[j] = true
				}
			}
			room := 0
			for j := range bunks {
				room += b.m.Bunks[j].Capacity
			}
			if d := campers - room; d > worst {
				worst, worstMask = d, mask
			}
		}
	} else {
		total := 0
		for _, bk := range b.m.Bunks {
			total += bk.Capacity
		}
		worst = len(b.m.Campers) - total
	}

	if b.opts.AllowUnassigned {
		for _, el := range b.m.Eligible {
			if len(el) == 0 {
				b.m.Sink = true
				b.m.Shortage++
			}
		}
	}
	if worst <= 0 {
		return
	}
	if b.opts.AllowUnassigned {
		b.m.Sink = true
		b.m.Shortage += worst
		return
	}
	var bunkIDs []string
	if worstMask != 0 {
		seen := make(map[int]bool)
		for k, key := range keys {
			if worstMask&(1<<k) == 0 {
				continue
			}
			for _, j := range classes[key] {
				if !seen[j] {
					seen[j] = true
					bunkIDs = append(bunkIDs, b.m.Bunks[j].ID)
				}
			}
		}
		sort.Strings(bunkIDs)
	}
	b.violate(apperr.ConstraintCapacity, worst, bunkIDs, "capacity exceeded by %d", worst)
}

func (b *builder) intersect(members []int) []int {
	set := append([]int(nil), b.m.Eligible[members[0]]...)
	for _, m := range members[1:] {
		var next []int
		for _, j := range set {
			if contains(b.m.Eligible[m], j) {
				next = append(next, j)
			}
		}
		set = next
	}
	return set
}

func (b *builder) allEligible(members []int) bool {
	for _, m := range members {
		if len(b.m.Eligible[m]) == 0 {
			return false
		}
	}
	return true
}

func (b *builder) camperIDs(members []int) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = b.m.Campers[m].ID
	}
	return ids
}

func signature(el []int) string {
	parts := make([]string, len(el))
	for i, j := range el {
		parts[i] = fmt.Sprint(j)
	}
	return strings.Join(parts, ",")
}

func contains(s []int, v int) bool {
	i := sort.SearchInts(s, v)
	return i < len(s) && s[i] == v
}
