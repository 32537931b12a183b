// Package schemacheck verifies the foreign keys account deletion relies on.
package schemacheck

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

type ForeignKey struct {
	Name       string
	Table      string
	Columns    string
	RefTable   string
	RefColumns string
	Definition string
}

func (fk ForeignKey) String() string {
	return fmt.Sprintf("%s: %s(%s) -> %s(%s)", fk.Name, fk.Table, fk.Columns, fk.RefTable, fk.RefColumns)
}

// Requirement is a column that must reference RefTable with ON DELETE CASCADE.
type Requirement struct {
	Table    string
	Column   string
	RefTable string
}

// Required lists the cascades the user tables need.
var Required = []Requirement{
	{Table: "profiles", Column: "user_id", RefTable: "users"},
	{Table: "refresh_tokens", Column: "user_id", RefTable: "users"},
}

const fkQuery = `
	SELECT
	  con.conname AS constraint_name,
	  rel.relname AS table_name,
	  array_to_string(array_agg(att.attname ORDER BY u.ord), ',') AS src_columns,
	  confrel.relname AS referenced_table,
	  array_to_string(array_agg(att2.attname ORDER BY u.ord), ',') AS ref_columns,
	  pg_get_constraintdef(con.oid) AS definition
	FROM pg_constraint con
	JOIN pg_class rel ON rel.oid = con.conrelid
	JOIN pg_class confrel ON confrel.oid = con.confrelid
	JOIN unnest(con.conkey) WITH ORDINALITY AS u(attnum, ord) ON true
	JOIN pg_attribute att ON att.attrelid = con.conrelid AND att.attnum = u.attnum
	LEFT JOIN unnest(con.confkey) WITH ORDINALITY AS v(confkey, ord2) ON v.ord2 = u.ord
	LEFT JOIN pg_attribute att2 ON att2.attrelid = con.confrelid AND att2.attnum = v.confkey
	WHERE con.contype = 'f'
	GROUP BY con.oid, con.conname, rel.relname, confrel.relname
	ORDER BY rel.relname, constraint_name`

// ForeignKeys lists every foreign key in the connected database.
func ForeignKeys(ctx context.Context, db *sql.DB) ([]ForeignKey, error) {
	rows, err := db.QueryContext(ctx, fkQuery)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()

	var out []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		var srcCols, refCols sql.NullString
		if err := rows.Scan(&fk.Name, &fk.Table, &srcCols, &fk.RefTable, &refCols, &fk.Definition); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		fk.Columns, fk.RefColumns = srcCols.String, refCols.String
		out = append(out, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows err: %w", err)
	}
	return out, nil
}

// Check returns one problem per unmet requirement.
func Check(fks []ForeignKey, reqs []Requirement) []string {
	var problems []string
	for _, r := range reqs {
		found := false
		for _, fk := range fks {
			if fk.Table != r.Table || fk.RefTable != r.RefTable || fk.Columns != r.Column {
				continue
			}
			found = true
			if !strings.Contains(strings.ToUpper(fk.Definition), "ON DELETE CASCADE") {
				problems = append(problems, fmt.Sprintf("%s.%s -> %s does not cascade on delete (%s)", r.Table, r.Column, r.RefTable, fk.Definition))
			}
		}
		if !found {
			problems = append(problems, fmt.Sprintf("%s.%s has no foreign key to %s", r.Table, r.Column, r.RefTable))
		}
	}
	return problems
}
