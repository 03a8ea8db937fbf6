// Package catalog turns a browse request into a whitelist-safe multi-source
// query plan: category alias expansion, source filtering, and composition.
package catalog

// AliasEntry maps one canonical category to the labels it matches across
// retailer sources.
type AliasEntry struct {
	Category string   `json:"name" yaml:"name"`
	Aliases  []string `json:"aliases" yaml:"aliases"`
}

// AliasTable is an immutable canonical-category -> alias set mapping.
// It is built once at startup and is safe for concurrent use.
type AliasTable struct {
	entries []AliasEntry
	index   map[string]int
}

// NewAliasTable builds a table from entries. Entry order is preserved for
// listing; a repeated category keeps its first definition.
func NewAliasTable(entries []AliasEntry) *AliasTable {
	t := &AliasTable{
		entries: make([]AliasEntry, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}
	for _, e := range entries {
		if _, ok := t.index[e.Category]; ok {
			continue
		}
		aliases := make([]string, len(e.Aliases))
		copy(aliases, e.Aliases)
		t.index[e.Category] = len(t.entries)
		t.entries = append(t.entries, AliasEntry{Category: e.Category, Aliases: aliases})
	}
	return t
}

// DefaultAliasTable returns the clothing taxonomy used by the retailer scrapers.
func DefaultAliasTable() *AliasTable {
	return NewAliasTable([]AliasEntry{
		{Category: "T-skjorte", Aliases: []string{"Tshirt", "Tshirtstanks", "Tskjorte", "Tee", "Top"}},
		{Category: "Bukse", Aliases: []string{"Bukser", "Bukse", "Trousers", "Trouser", "Pants", "Sweatpants"}},
		{Category: "Jakke", Aliases: []string{"Jacket", "Jakker", "Jakke", "Jacketscoats", "Coat", "Jacker"}},
		{Category: "Genser", Aliases: []string{"Sweater", "Genser", "Gensere", "Cardigan"}},
		{Category: "Skjorte", Aliases: []string{"Skjorte", "Shirt", "Shirts", "Sleeve"}},
		{Category: "Shorts", Aliases: []string{"Shorts"}},
		{Category: "Jeans", Aliases: []string{"Jeans"}},
		{Category: "Blazer", Aliases: []string{"Blazer", "Blazerssuits"}},
		{Category: "Hoodie", Aliases: []string{"Hoodie", "Hoodiessweatshirts"}},
	})
}

// Expand returns the alias set for canonical. Lookup is an exact key match.
// An unknown category expands to itself, so the result is never empty.
func (t *AliasTable) Expand(canonical string) []string {
	i, ok := t.index[canonical]
	if !ok || len(t.entries[i].Aliases) == 0 {
		return []string{canonical}
	}
	out := make([]string, len(t.entries[i].Aliases))
	copy(out, t.entries[i].Aliases)
	return out
}

// Has reports whether canonical has a configured entry.
func (t *AliasTable) Has(canonical string) bool {
	_, ok := t.index[canonical]
	return ok
}

// Entries returns a copy of the table in configured order.
func (t *AliasTable) Entries() []AliasEntry {
	out := make([]AliasEntry, len(t.entries))
	for i, e := range t.entries {
		aliases := make([]string, len(e.Aliases))
		copy(aliases, e.Aliases)
		out[i] = AliasEntry{Category: e.Category, Aliases: aliases}
	}
	return out
}
