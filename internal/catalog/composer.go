package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
)

// ProductColumns is the projection used for browse results.
var ProductColumns = []string{"id", "name", "price", "image_url", "product_link", "category"}

// CandidateColumns is the projection used when loading match candidates.
var CandidateColumns = append(append([]string{}, ProductColumns...), "feature_vector")

// SourceQuery is one parameterized fetch against a single source. Placeholders
// are numbered from $1 and Args binds them in order.
type SourceQuery struct {
	Source string
	SQL    string
	Args   []any

	// render rebuilds SQL with placeholders starting at $(offset+1).
	render func(offset int) string
}

// QueryPlan is the composed multi-source fetch for one browse request.
type QueryPlan struct {
	Sources []string
	Aliases []string
	Queries []SourceQuery
}

// Args returns every bound value in source-major order: for each source in
// plan order, one pattern per alias in alias order.
func (p *QueryPlan) Args() []any {
	out := make([]any, 0, len(p.Queries)*len(p.Aliases))
	for _, q := range p.Queries {
		out = append(out, q.Args...)
	}
	return out
}

// Union renders the plan as a single UNION ALL statement. Each branch carries
// its position in the plan as the first column (source_ord), and placeholders
// are numbered across branches so the returned args line up with Args.
func (p *QueryPlan) Union() (string, []any) {
	branches := make([]string, 0, len(p.Queries))
	offset := 0
	for i, q := range p.Queries {
		body := q.SQL
		if q.render != nil {
			body = q.render(offset)
		}
		branches = append(branches, strings.Replace(body, "SELECT ", "SELECT "+strconv.Itoa(i)+" AS source_ord, ", 1))
		offset += len(q.Args)
	}
	return strings.Join(branches, " UNION ALL "), p.Args()
}

// Composer builds parameterized SQL for whitelisted sources. Source ids only
// reach query text after a whitelist check and identifier quoting; alias
// values are always bound as parameters.
type Composer struct {
	whitelist *Whitelist
	quote     func(string) string
}

// NewComposer creates a composer that quotes identifiers for Postgres and
// SQLite (double-quoted identifiers).
func NewComposer(whitelist *Whitelist) *Composer {
	return &Composer{whitelist: whitelist, quote: pq.QuoteIdentifier}
}

// Whitelist returns the whitelist the composer enforces.
func (c *Composer) Whitelist() *Whitelist {
	return c.whitelist
}

// Table returns the quoted identifier for a whitelisted source.
func (c *Composer) Table(source string) (string, error) {
	if !c.whitelist.Allows(source) {
		return "", fmt.Errorf("source %q is not whitelisted", source)
	}
	return c.quote(source), nil
}

// Compose builds one category query per source. Each query matches rows whose
// category contains any alias (OR'ed LIKE '%alias%'), and its args are the
// alias patterns in alias order.
func (c *Composer) Compose(sources, aliases []string) (*QueryPlan, error) {
	if len(sources) == 0 {
		return nil, ErrNoValidSources
	}
	if len(aliases) == 0 {
		return nil, fmt.Errorf("compose: empty alias set")
	}

	plan := &QueryPlan{
		Sources: append([]string(nil), sources...),
		Aliases: append([]string(nil), aliases...),
		Queries: make([]SourceQuery, 0, len(sources)),
	}
	for _, src := range sources {
		table, err := c.Table(src)
		if err != nil {
			return nil, fmt.Errorf("compose: %w", err)
		}
		args := make([]any, len(aliases))
		for i, a := range aliases {
			args[i] = "%" + a + "%"
		}
		render := categorySQL(table, len(aliases))
		plan.Queries = append(plan.Queries, SourceQuery{
			Source: src,
			SQL:    render(0),
			Args:   args,
			render: render,
		})
	}
	return plan, nil
}

// categorySQL returns a renderer for the category predicate query against an
// already quoted table.
func categorySQL(table string, n int) func(offset int) string {
	cols := strings.Join(ProductColumns, ", ")
	return func(offset int) string {
		conds := make([]string, n)
		for i := range conds {
			conds[i] = "category LIKE $" + strconv.Itoa(offset+i+1)
		}
		return "SELECT " + cols + " FROM " + table + " WHERE (" + strings.Join(conds, " OR ") + ")"
	}
}

// Candidates builds one query per source selecting every product that has a
// stored feature vector.
func (c *Composer) Candidates(sources []string) ([]SourceQuery, error) {
	cols := strings.Join(CandidateColumns, ", ")
	out := make([]SourceQuery, 0, len(sources))
	for _, src := range sources {
		table, err := c.Table(src)
		if err != nil {
			return nil, fmt.Errorf("candidates: %w", err)
		}
		out = append(out, SourceQuery{
			Source: src,
			SQL:    "SELECT " + cols + " FROM " + table + " WHERE feature_vector IS NOT NULL",
		})
	}
	return out, nil
}

// PendingVectors selects up to limit products of source that have an image
// but no feature vector yet, ordered by id. With all set, products that
// already have a vector are selected too.
func (c *Composer) PendingVectors(source string, afterID int64, limit int, all bool) (SourceQuery, error) {
	table, err := c.Table(source)
	if err != nil {
		return SourceQuery{}, fmt.Errorf("pending vectors: %w", err)
	}
	where := "image_url IS NOT NULL AND image_url <> '' AND id > $1"
	if !all {
		where = "feature_vector IS NULL AND " + where
	}
	return SourceQuery{
		Source: source,
		SQL:    "SELECT id, image_url FROM " + table + " WHERE " + where + " ORDER BY id LIMIT $2",
		Args:   []any{afterID, limit},
	}, nil
}

// UpdateVector writes a serialized feature vector for one product.
func (c *Composer) UpdateVector(source string, id int64, vector string) (SourceQuery, error) {
	table, err := c.Table(source)
	if err != nil {
		return SourceQuery{}, fmt.Errorf("update vector: %w", err)
	}
	return SourceQuery{
		Source: source,
		SQL:    "UPDATE " + table + " SET feature_vector = $1 WHERE id = $2",
		Args:   []any{vector, id},
	}, nil
}
