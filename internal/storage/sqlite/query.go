package sqlite

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/untoldecay/taskgraph/internal/storage"
)

const defaultQueryLimit = 50

// sortCol is one column of a compound sort order.
type sortCol struct {
	expr string
	desc bool
}

// querySorts defines the supported sort modes. Every mode gets n.id ASC as
// the final tie-break so cursor pagination is total.
var querySorts = map[string][]sortCol{
	"recent":  {{"n.updated_at", true}},
	"created": {{"n.created_at", false}},
	"depth":   {{"CAST(n.depth AS REAL)", false}},
	"readiness": {
		{"(CASE WHEN " + actionablePredicate + " THEN 1.0 ELSE 0.0 END)", true},
		{"CAST(n.depth AS REAL)", true},
		{"n.updated_at", false},
	},
}

type queryCursor struct {
	Sort string `json:"s"`
	Keys []any  `json:"k"`
	ID   string `json:"id"`
}

func encodeCursor(c queryCursor) string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(s string) (*queryCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad cursor: %v", storage.ErrInvalidFilter, err)
	}
	var c queryCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: bad cursor: %v", storage.ErrInvalidFilter, err)
	}
	return &c, nil
}

// keysetClause builds the WHERE fragment that resumes a compound sort after
// the cursor position: rows strictly after (keys..., id) in sort order.
func keysetClause(cols []sortCol, keys []any, lastID string) (string, []any, error) {
	if len(keys) != len(cols) {
		return "", nil, fmt.Errorf("%w: cursor carries %d keys, sort needs %d",
			storage.ErrInvalidFilter, len(keys), len(cols))
	}
	var branches []string
	var args []any
	for i := range cols {
		var conds []string
		for j := 0; j < i; j++ {
			conds = append(conds, cols[j].expr+" = ?")
			args = append(args, keys[j])
		}
		op := ">"
		if cols[i].desc {
			op = "<"
		}
		conds = append(conds, cols[i].expr+" "+op+" ?")
		args = append(args, keys[i])
		branches = append(branches, "("+strings.Join(conds, " AND ")+")")
	}
	// Full key equality falls through to the id tie-break.
	var conds []string
	for j := range cols {
		conds = append(conds, cols[j].expr+" = ?")
		args = append(args, keys[j])
	}
	conds = append(conds, "n.id > ?")
	args = append(args, lastID)
	branches = append(branches, "("+strings.Join(conds, " AND ")+")")

	return "(" + strings.Join(branches, " OR ") + ")", args, nil
}

// Query returns one page of nodes matching the filter. Property and
// evidence-type filters are applied after the scan (both live in schemaless
// JSON columns), so the SQL side streams in sort order and the loop stops
// once the page is full.
func (s *Store) Query(ctx context.Context, f storage.NodeFilter) (*storage.QueryPage, error) {
	sort := f.Sort
	if sort == "" {
		sort = "recent"
	}
	cols, ok := querySorts[sort]
	if !ok {
		return nil, fmt.Errorf("%w: unknown sort %q", storage.ErrInvalidFilter, f.Sort)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var where []string
	var args []any

	if f.Project != "" {
		where = append(where, "n.project = ?")
		args = append(args, f.Project)
	}
	if f.Resolved != nil {
		where = append(where, "n.resolved = ?")
		args = append(args, boolInt(*f.Resolved))
	}
	if f.Blocked != nil {
		where = append(where, "n.blocked = ?")
		args = append(args, boolInt(*f.Blocked))
	}
	if f.Actionable != nil {
		if *f.Actionable {
			where = append(where, "("+actionablePredicate+")")
		} else {
			where = append(where, "NOT ("+actionablePredicate+")")
		}
	}
	if f.IsLeaf != nil {
		leaf := "NOT EXISTS (SELECT 1 FROM nodes c WHERE c.parent = n.id)"
		if *f.IsLeaf {
			where = append(where, leaf)
		} else {
			where = append(where, "NOT ("+leaf+")")
		}
	}
	if f.Ancestor != "" {
		where = append(where, `n.id IN (
			WITH RECURSIVE sub(id, d) AS (
				SELECT id, 0 FROM nodes WHERE parent = ?
				UNION ALL
				SELECT x.id, sub.d + 1 FROM nodes x JOIN sub ON x.parent = sub.id
				WHERE sub.d < `+fmt.Sprint(maxTreeDepth)+`
			)
			SELECT id FROM sub
		)`)
		args = append(args, f.Ancestor)
	}
	if f.Text != "" {
		where = append(where, "n.summary LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(f.Text)+"%")
	}
	if f.ClaimedBy != nil {
		if *f.ClaimedBy == "" {
			where = append(where, "json_extract(n.properties, '$._claimed_by') IS NULL")
		} else {
			where = append(where, "json_extract(n.properties, '$._claimed_by') = ?")
			args = append(args, *f.ClaimedBy)
		}
	}
	if !f.UpdatedAfter.IsZero() {
		where = append(where, "n.updated_at > ?")
		args = append(args, encodeTime(f.UpdatedAfter))
	}
	if !f.UpdatedBefore.IsZero() {
		where = append(where, "n.updated_at < ?")
		args = append(args, encodeTime(f.UpdatedBefore))
	}

	if f.Cursor != "" {
		c, err := decodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		if c.Sort != sort {
			return nil, fmt.Errorf("%w: cursor was issued for sort %q, query uses %q",
				storage.ErrInvalidFilter, c.Sort, sort)
		}
		clause, keyArgs, err := keysetClause(cols, c.Keys, c.ID)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, keyArgs...)
	}

	whereSQL := ""
	if len(where) > 0 {
		whereSQL = " WHERE " + strings.Join(where, " AND ")
	}

	var orderParts, keyExprs []string
	for _, c := range cols {
		dir := "ASC"
		if c.desc {
			dir = "DESC"
		}
		orderParts = append(orderParts, c.expr+" "+dir)
		keyExprs = append(keyExprs, c.expr)
	}
	orderParts = append(orderParts, "n.id ASC")

	// #nosec G201 - expressions come from the fixed querySorts table
	query := fmt.Sprintf(`
		SELECT `+nodeColumns+`, %s FROM nodes n%s
		ORDER BY %s
	`, strings.Join(keyExprs, ", "), whereSQL, strings.Join(orderParts, ", "))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	page := &storage.QueryPage{}
	var lastKeys []any
	for rows.Next() {
		keyVals := make([]any, len(cols))
		keyPtrs := make([]any, len(cols))
		for i := range keyVals {
			keyPtrs[i] = &keyVals[i]
		}
		n, err := scanNodeExtra(rows, keyPtrs...)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		if len(f.Properties) > 0 && !n.Properties.Matches(f.Properties) {
			continue
		}
		if f.HasEvidenceType != "" && !n.HasEvidenceType(f.HasEvidenceType) {
			continue
		}
		if len(page.Nodes) == limit {
			// One matching row past the page proves there is more.
			page.Cursor = encodeCursor(queryCursor{
				Sort: sort,
				Keys: lastKeys,
				ID:   page.Nodes[limit-1].ID,
			})
			return page, nil
		}
		page.Nodes = append(page.Nodes, n)
		lastKeys = keyVals
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return page, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
