package alert

// Groups partitions alerts by kind and then by resource key so that one
// provider lookup serves every alert in a resource group.
type Groups struct {
	ByKind map[Kind]map[string][]Alert
	// Dropped holds alerts excluded from this pass because they failed
	// validation. They are reported, never mutated.
	Dropped []Alert
}

// Group builds the evaluation groups for one pass. Alerts keep their input
// order inside a group. Disabled alerts are skipped.
func Group(alerts []Alert) Groups {
	g := Groups{ByKind: make(map[Kind]map[string][]Alert, len(Kinds))}
	for _, a := range alerts {
		if !a.Enabled {
			continue
		}
		if err := Validate(a); err != nil {
			g.Dropped = append(g.Dropped, a)
			continue
		}
		key, _ := ResourceKey(a.Condition)
		byKey, ok := g.ByKind[a.Kind]
		if !ok {
			byKey = make(map[string][]Alert)
			g.ByKind[a.Kind] = byKey
		}
		byKey[key] = append(byKey[key], a)
	}
	return g
}

// Len returns the number of resource groups across all kinds.
func (g Groups) Len() int {
	n := 0
	for _, byKey := range g.ByKind {
		n += len(byKey)
	}
	return n
}

// Alerts returns how many alerts were placed into groups.
func (g Groups) Alerts() int {
	n := 0
	for _, byKey := range g.ByKind {
		for _, as := range byKey {
			n += len(as)
		}
	}
	return n
}
