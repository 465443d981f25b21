package sqlgen

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rpattn/querykit/internal/domain"
	"github.com/rpattn/querykit/internal/query"
	"github.com/rpattn/querykit/internal/schema"
)

const rootAlias = "t0"

// Column describes one column of a compiled result set.
type Column struct {
	// Name is the result column label.
	Name string
	// Path is the join-style relation path the column belongs to. Empty for
	// root columns and annotations.
	Path       string
	Field      domain.FieldDefinition
	Annotation bool
	PrimaryKey bool
}

// Statement is a compiled SQL statement with its bound arguments.
type Statement struct {
	SQL     string
	Args    []any
	Columns []Column
}

// Compiler translates materialized query specs into parameterized SQL. All
// identifiers come from the schema registry and all values are bound.
type Compiler struct {
	registry *schema.Registry
	dialect  Dialect
}

// NewCompiler returns a compiler for the given registry and dialect.
func NewCompiler(registry *schema.Registry, dialect Dialect) *Compiler {
	return &Compiler{registry: registry, dialect: dialect}
}

// Dialect reports the SQL flavour the compiler emits.
func (c *Compiler) Dialect() Dialect { return c.dialect }

// Fetch compiles the row query for spec, including join-style eager loads.
func (c *Compiler) Fetch(spec query.Spec) (Statement, error) {
	if err := c.registry.ValidateSpec(spec); err != nil {
		return Statement{}, err
	}
	s := c.newState(spec)
	sql, columns, err := s.fetch(spec, true)
	if err != nil {
		return Statement{}, err
	}
	return Statement{SQL: sql, Args: s.args, Columns: columns}, nil
}

// Count compiles a COUNT(*) over the rows spec matches. Distinct and sliced
// specs are counted over the fetch query so both agree on cardinality.
func (c *Compiler) Count(spec query.Spec) (Statement, error) {
	if err := c.registry.ValidateSpec(spec); err != nil {
		return Statement{}, err
	}
	spec.SelectRelated = nil
	spec.PrefetchRelated = nil
	spec.OrderBy = nil

	s := c.newState(spec)
	if spec.Distinct || spec.Limit != nil || spec.Offset != nil {
		inner, _, err := s.fetch(spec, false)
		if err != nil {
			return Statement{}, err
		}
		return Statement{SQL: "SELECT COUNT(*) FROM (" + inner + ") AS counted", Args: s.args}, nil
	}

	where, err := s.where(spec)
	if err != nil {
		return Statement{}, err
	}
	sql := "SELECT COUNT(*) FROM " + quoteIdent(s.root.TableName()) + " " + rootAlias + where
	return Statement{SQL: sql, Args: s.args}, nil
}

// Aggregate compiles whole-set aggregates over the rows spec matches.
func (c *Compiler) Aggregate(spec query.Spec, aggregates []query.Annotation) (Statement, error) {
	if err := c.registry.ValidateSpec(spec); err != nil {
		return Statement{}, err
	}
	if err := c.registry.ValidateAggregates(spec, aggregates); err != nil {
		return Statement{}, err
	}
	if len(aggregates) == 0 {
		return Statement{}, fmt.Errorf("aggregate requires at least one expression")
	}

	s := c.newState(spec)
	from := quoteIdent(s.root.TableName()) + " " + rootAlias
	var where string
	if spec.Distinct || spec.Limit != nil || spec.Offset != nil {
		inner, err := s.restricted(spec)
		if err != nil {
			return Statement{}, err
		}
		from = "(" + inner + ") " + rootAlias
	} else {
		var err error
		if where, err = s.where(spec); err != nil {
			return Statement{}, err
		}
	}

	selects := make([]string, 0, len(aggregates))
	columns := make([]Column, 0, len(aggregates))
	for _, a := range aggregates {
		expr, err := s.setExpr(a.Expr)
		if err != nil {
			return Statement{}, err
		}
		selects = append(selects, expr+" AS "+quoteIdent(a.Alias))
		columns = append(columns, Column{Name: a.Alias, Annotation: true})
	}

	sql := "SELECT " + strings.Join(selects, ", ") + " FROM " + from + where
	return Statement{SQL: sql, Args: s.args, Columns: columns}, nil
}

// BatchLoad compiles the query that loads every Target row of hop whose
// TargetKey is one of keys, ordered by primary key.
func (c *Compiler) BatchLoad(hop schema.Hop, keys []any) (Statement, error) {
	s := &compileState{dialect: c.dialect, registry: c.registry, root: hop.Target}
	const alias = "b0"

	selects, columns := fieldColumns(hop.Target, alias, "")
	cond, err := s.condition(column(alias, hop.TargetKey.ColumnName()), query.In(hop.TargetKey.Name, keys...))
	if err != nil {
		return Statement{}, err
	}
	pk, _ := hop.Target.Field(hop.Target.PrimaryKeyField())

	sql := fmt.Sprintf("SELECT %s FROM %s %s WHERE %s ORDER BY %s",
		strings.Join(selects, ", "), quoteIdent(hop.Target.TableName()), alias, cond, column(alias, pk.ColumnName()))
	return Statement{SQL: sql, Args: s.args, Columns: columns}, nil
}

type compileState struct {
	dialect     Dialect
	registry    *schema.Registry
	root        domain.EntityDescriptor
	annotations map[string]query.Expr

	// projected holds the selected names when the fetch is projected.
	projected map[string]bool
	args      []any
	aliasSeq  int
}

func (c *Compiler) newState(spec query.Spec) *compileState {
	root, _ := c.registry.Entity(spec.Entity)
	s := &compileState{
		dialect:     c.dialect,
		registry:    c.registry,
		root:        root,
		annotations: make(map[string]query.Expr, len(spec.Annotations)),
		args:        make([]any, 0),
	}
	for _, a := range spec.Annotations {
		s.annotations[a.Alias] = a.Expr
	}
	return s
}

func (s *compileState) addArg(value any) int {
	s.args = append(s.args, value)
	return len(s.args)
}

func (s *compileState) bind(value any) string {
	return s.dialect.placeholder(s.addArg(value))
}

func (s *compileState) nextAlias() string {
	s.aliasSeq++
	return fmt.Sprintf("s%d", s.aliasSeq)
}

func (s *compileState) fetch(spec query.Spec, withJoins bool) (string, []Column, error) {
	var (
		selects []string
		columns []Column
		err     error
	)
	if len(spec.Fields) > 0 {
		selects, columns, err = s.projection(spec.Fields)
		withJoins = false
	} else {
		selects, columns, err = s.allColumns(spec)
	}
	if err != nil {
		return "", nil, err
	}

	var joins []string
	if withJoins {
		joinSelects, joinColumns, joinClauses, err := s.joins(spec.SelectRelated)
		if err != nil {
			return "", nil, err
		}
		selects = append(selects, joinSelects...)
		columns = append(columns, joinColumns...)
		joins = joinClauses
	}

	where, err := s.where(spec)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	if spec.Distinct {
		sb.WriteString("DISTINCT ")
	}
	sb.WriteString(strings.Join(selects, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(quoteIdent(s.root.TableName()))
	sb.WriteString(" " + rootAlias)
	for _, j := range joins {
		sb.WriteString(" " + j)
	}
	sb.WriteString(where)
	order, err := s.orderBy(spec)
	if err != nil {
		return "", nil, err
	}
	sb.WriteString(order)
	sb.WriteString(s.limitOffset(spec))
	return sb.String(), columns, nil
}

func (s *compileState) allColumns(spec query.Spec) ([]string, []Column, error) {
	selects, columns := fieldColumns(s.root, rootAlias, "")
	for _, a := range spec.Annotations {
		expr, err := s.rowExpr(a.Expr)
		if err != nil {
			return nil, nil, err
		}
		selects = append(selects, expr+" AS "+quoteIdent(a.Alias))
		columns = append(columns, Column{Name: a.Alias, Annotation: true})
	}
	return selects, columns, nil
}

// projection selects only the named root fields and annotations, labelled
// with the names as given.
func (s *compileState) projection(fields []string) ([]string, []Column, error) {
	s.projected = make(map[string]bool, len(fields))
	selects := make([]string, 0, len(fields))
	columns := make([]Column, 0, len(fields))
	for _, name := range fields {
		s.projected[name] = true
		if expr, ok := s.annotations[name]; ok {
			sql, err := s.rowExpr(expr)
			if err != nil {
				return nil, nil, err
			}
			selects = append(selects, sql+" AS "+quoteIdent(name))
			columns = append(columns, Column{Name: name, Annotation: true})
			continue
		}
		f, ok := s.root.Field(name)
		if !ok {
			return nil, nil, &query.SchemaMismatchError{Entity: s.root.Name, Kind: "field", Name: name}
		}
		selects = append(selects, column(rootAlias, f.ColumnName())+" AS "+quoteIdent(name))
		columns = append(columns, Column{Name: name, Field: f, PrimaryKey: f.Name == s.root.PrimaryKeyField()})
	}
	return selects, columns, nil
}

// restricted selects the root rows spec matches, honouring distinct and
// slicing, so aggregates can be evaluated over them.
func (s *compileState) restricted(spec query.Spec) (string, error) {
	where, err := s.where(spec)
	if err != nil {
		return "", err
	}
	distinct := ""
	if spec.Distinct {
		distinct = "DISTINCT "
	}
	return "SELECT " + distinct + rootAlias + ".* FROM " + quoteIdent(s.root.TableName()) + " " + rootAlias +
		where + s.limitOffset(spec), nil
}

func fieldColumns(d domain.EntityDescriptor, alias, path string) ([]string, []Column) {
	selects := make([]string, 0, len(d.Fields))
	columns := make([]Column, 0, len(d.Fields))
	pk := d.PrimaryKeyField()
	for _, f := range d.Fields {
		name := f.Name
		if path != "" {
			name = path + query.PathSeparator + f.Name
		}
		selects = append(selects, column(alias, f.ColumnName())+" AS "+quoteIdent(name))
		columns = append(columns, Column{Name: name, Path: path, Field: f, PrimaryKey: f.Name == pk})
	}
	return selects, columns
}

func (s *compileState) joins(paths []string) ([]string, []Column, []string, error) {
	var (
		selects []string
		columns []Column
		clauses []string
	)
	joined := map[string]string{"": rootAlias}
	for _, path := range paths {
		resolved, err := s.registry.ResolvePath(s.root.Name, path)
		if err != nil {
			return nil, nil, nil, err
		}
		segments := query.SplitPath(path)
		for i, hop := range resolved.Hops {
			prefix := strings.Join(segments[:i+1], query.PathSeparator)
			if _, ok := joined[prefix]; ok {
				continue
			}
			parent := joined[strings.Join(segments[:i], query.PathSeparator)]
			alias := fmt.Sprintf("j%d", len(joined))
			joined[prefix] = alias

			clauses = append(clauses, fmt.Sprintf("LEFT JOIN %s %s ON %s = %s",
				quoteIdent(hop.Target.TableName()), alias,
				column(alias, hop.TargetKey.ColumnName()), column(parent, hop.SourceKey.ColumnName())))
			sel, cols := fieldColumns(hop.Target, alias, prefix)
			selects = append(selects, sel...)
			columns = append(columns, cols...)
		}
	}
	return selects, columns, clauses, nil
}

// where ANDs the filter with every exclude. An exclude is wrapped in
// COALESCE so a NULL comparison counts as not matching and the row is kept.
func (s *compileState) where(spec query.Spec) (string, error) {
	var terms []query.Predicate
	if c, ok := spec.Filter().(query.Conjunction); ok {
		terms = c.Children()
	}
	parts := make([]string, 0, len(terms)+len(spec.Excludes))
	for _, p := range terms {
		cond, err := s.predicate(p, s.root, rootAlias, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, cond)
	}
	for _, p := range spec.Excludes {
		cond, err := s.predicate(p, s.root, rootAlias, true)
		if err != nil {
			return "", err
		}
		parts = append(parts, "NOT COALESCE("+cond+", FALSE)")
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " WHERE (" + strings.Join(parts, " AND ") + ")", nil
}

func (s *compileState) orderBy(spec query.Spec) (string, error) {
	if len(spec.OrderBy) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(spec.OrderBy))
	for _, term := range spec.OrderBy {
		dir := "ASC"
		if term.Direction == query.SortDesc {
			dir = "DESC"
		}
		if expr, ok := s.annotations[term.Field]; ok {
			if s.projected == nil || s.projected[term.Field] {
				parts = append(parts, quoteIdent(term.Field)+" "+dir)
				continue
			}
			sql, err := s.rowExpr(expr)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql+" "+dir)
			continue
		}
		f, _ := s.root.Field(term.Field)
		parts = append(parts, column(rootAlias, f.ColumnName())+" "+dir)
	}
	return " ORDER BY " + strings.Join(parts, ", "), nil
}

func (s *compileState) limitOffset(spec query.Spec) string {
	var sb strings.Builder
	switch {
	case spec.Limit != nil:
		sb.WriteString(" LIMIT " + s.bind(*spec.Limit))
	case spec.Offset != nil && s.dialect == SQLite:
		// SQLite does not accept OFFSET without LIMIT.
		sb.WriteString(" LIMIT -1")
	}
	if spec.Offset != nil {
		sb.WriteString(" OFFSET " + s.bind(*spec.Offset))
	}
	return sb.String()
}

// predicate compiles p against entity ent whose row is bound to alias.
// Annotation aliases are only visible at the root of the query.
func (s *compileState) predicate(p query.Predicate, ent domain.EntityDescriptor, alias string, withAliases bool) (string, error) {
	switch n := p.(type) {
	case query.Leaf:
		return s.leaf(n, ent, alias, withAliases)
	case query.Conjunction:
		return s.composite(n.Children(), " AND ", ent, alias, withAliases)
	case query.Disjunction:
		return s.composite(n.Children(), " OR ", ent, alias, withAliases)
	case query.Negation:
		inner, err := s.predicate(n.Child(), ent, alias, withAliases)
		if err != nil {
			return "", err
		}
		return "NOT (" + inner + ")", nil
	default:
		return "", fmt.Errorf("unsupported predicate %T", p)
	}
}

func (s *compileState) composite(children []query.Predicate, sep string, ent domain.EntityDescriptor, alias string, withAliases bool) (string, error) {
	parts := make([]string, 0, len(children))
	for _, child := range children {
		part, err := s.predicate(child, ent, alias, withAliases)
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return "(" + strings.Join(parts, sep) + ")", nil
}

func (s *compileState) leaf(leaf query.Leaf, ent domain.EntityDescriptor, alias string, withAliases bool) (string, error) {
	if withAliases {
		if expr, ok := s.annotations[leaf.Field()]; ok {
			sqlExpr, err := s.rowExpr(expr)
			if err != nil {
				return "", err
			}
			return s.condition(sqlExpr, leaf)
		}
	}

	resolved, err := s.registry.ResolvePath(ent.Name, leaf.Field())
	if err != nil {
		return "", err
	}
	if len(resolved.Hops) == 0 {
		return s.condition(column(alias, resolved.Field.ColumnName()), leaf)
	}
	return s.exists(resolved, alias, leaf)
}

// exists compiles a leaf on a relation path into nested correlated EXISTS
// subqueries, one per hop. A path ending on the relation itself only supports
// isnull, which becomes NOT EXISTS / EXISTS.
func (s *compileState) exists(resolved schema.Path, outer string, leaf query.Leaf) (string, error) {
	aliases := make([]string, len(resolved.Hops))
	for i := range aliases {
		aliases[i] = s.nextAlias()
	}

	var sql string
	if !resolved.IsRelation() {
		cond, err := s.condition(column(aliases[len(aliases)-1], resolved.Field.ColumnName()), leaf)
		if err != nil {
			return "", err
		}
		sql = cond
	} else if leaf.Op() != query.OpIsNull {
		return "", &query.SchemaMismatchError{Entity: resolved.Root.Name, Kind: "field", Name: leaf.Field(), Reason: "relations can only be tested with isnull"}
	}

	for i := len(resolved.Hops) - 1; i >= 0; i-- {
		hop := resolved.Hops[i]
		parent := outer
		if i > 0 {
			parent = aliases[i-1]
		}
		conds := []string{column(aliases[i], hop.TargetKey.ColumnName()) + " = " + column(parent, hop.SourceKey.ColumnName())}
		if sql != "" {
			conds = append(conds, sql)
		}
		sql = fmt.Sprintf("EXISTS (SELECT 1 FROM %s %s WHERE %s)",
			quoteIdent(hop.Target.TableName()), aliases[i], strings.Join(conds, " AND "))
	}

	if resolved.IsRelation() {
		if isNull, _ := leaf.Value().(bool); isNull {
			return "NOT " + sql, nil
		}
	}
	return sql, nil
}

func (s *compileState) condition(expr string, leaf query.Leaf) (string, error) {
	value := leaf.Value()
	switch leaf.Op() {
	case query.OpEq:
		if value == nil {
			return expr + " IS NULL", nil
		}
		return expr + " = " + s.bind(value), nil
	case query.OpNe:
		if value == nil {
			return expr + " IS NOT NULL", nil
		}
		return expr + " <> " + s.bind(value), nil
	case query.OpGt:
		return expr + " > " + s.bind(value), nil
	case query.OpGte:
		return expr + " >= " + s.bind(value), nil
	case query.OpLt:
		return expr + " < " + s.bind(value), nil
	case query.OpLte:
		return expr + " <= " + s.bind(value), nil
	case query.OpContains:
		return s.dialect.contains(expr, s.bind(value)), nil
	case query.OpIContains:
		return s.dialect.contains("LOWER("+expr+")", "LOWER("+s.bind(value)+")"), nil
	case query.OpIsNull:
		isNull, ok := value.(bool)
		if !ok {
			return "", fmt.Errorf("isnull on %s requires a boolean, got %T", leaf.Field(), value)
		}
		if isNull {
			return expr + " IS NULL", nil
		}
		return expr + " IS NOT NULL", nil
	case query.OpIn:
		values, _ := value.([]any)
		if len(values) == 0 {
			return "1 = 0", nil
		}
		if s.dialect == Postgres {
			return expr + " = ANY(" + s.bind(values) + ")", nil
		}
		marks := make([]string, len(values))
		for i, v := range values {
			marks[i] = s.bind(v)
		}
		return expr + " IN (" + strings.Join(marks, ", ") + ")", nil
	default:
		return "", &query.InvalidOperatorError{Field: leaf.Field(), Operator: string(leaf.Op())}
	}
}

// rowExpr compiles a per-row annotation expression evaluated for each root row.
func (s *compileState) rowExpr(expr query.Expr) (string, error) {
	switch e := expr.(type) {
	case query.Aggregate:
		return s.rowAggregate(e)
	case query.Literal:
		return s.literal(e.Value), nil
	case query.Arith:
		return s.arith(e, s.rowExpr)
	default:
		return "", fmt.Errorf("unsupported expression %T", expr)
	}
}

func (s *compileState) rowAggregate(agg query.Aggregate) (string, error) {
	resolved, err := s.registry.ResolvePath(s.root.Name, agg.Path)
	if err != nil {
		return "", err
	}

	if len(resolved.Hops) == 0 {
		col := column(rootAlias, resolved.Field.ColumnName())
		var cond string
		if agg.Filter != nil {
			if cond, err = s.predicate(agg.Filter, s.root, rootAlias, false); err != nil {
				return "", err
			}
		}
		if agg.Func == query.AggCount {
			when := col + " IS NOT NULL"
			if cond != "" {
				when += " AND " + cond
			}
			return "CASE WHEN " + when + " THEN 1 ELSE 0 END", nil
		}
		if cond != "" {
			return "CASE WHEN " + cond + " THEN " + col + " END", nil
		}
		return col, nil
	}

	aliases := make([]string, len(resolved.Hops))
	for i := range aliases {
		aliases[i] = s.nextAlias()
	}
	first := resolved.Hops[0]
	from := quoteIdent(first.Target.TableName()) + " " + aliases[0]
	for i := 1; i < len(resolved.Hops); i++ {
		hop := resolved.Hops[i]
		from += fmt.Sprintf(" JOIN %s %s ON %s = %s", quoteIdent(hop.Target.TableName()), aliases[i],
			column(aliases[i], hop.TargetKey.ColumnName()), column(aliases[i-1], hop.SourceKey.ColumnName()))
	}
	conds := []string{column(aliases[0], first.TargetKey.ColumnName()) + " = " + column(rootAlias, first.SourceKey.ColumnName())}

	owner := aliases[len(aliases)-1]
	if agg.Filter != nil {
		cond, err := s.predicate(agg.Filter, resolved.Owner, owner, false)
		if err != nil {
			return "", err
		}
		conds = append(conds, cond)
	}

	var target string
	if resolved.Field != nil {
		target = column(owner, resolved.Field.ColumnName())
	} else {
		pk, _ := resolved.Owner.Field(resolved.Owner.PrimaryKeyField())
		target = column(owner, pk.ColumnName())
	}
	return fmt.Sprintf("(SELECT %s FROM %s WHERE %s)", aggregateCall(agg.Func, target), from, strings.Join(conds, " AND ")), nil
}

// setExpr compiles a whole-set aggregate expression over the root rows.
func (s *compileState) setExpr(expr query.Expr) (string, error) {
	switch e := expr.(type) {
	case query.Aggregate:
		resolved, err := s.registry.ResolvePath(s.root.Name, e.Path)
		if err != nil {
			return "", err
		}
		if resolved.Field == nil || len(resolved.Hops) > 0 {
			return "", &query.SchemaMismatchError{Entity: s.root.Name, Kind: "aggregate", Name: e.Path}
		}
		col := column(rootAlias, resolved.Field.ColumnName())
		if e.Filter != nil {
			cond, err := s.predicate(e.Filter, s.root, rootAlias, false)
			if err != nil {
				return "", err
			}
			col = "CASE WHEN " + cond + " THEN " + col + " END"
		}
		return aggregateCall(e.Func, col), nil
	case query.Literal:
		return s.literal(e.Value), nil
	case query.Arith:
		return s.arith(e, s.setExpr)
	default:
		return "", fmt.Errorf("unsupported expression %T", expr)
	}
}

func (s *compileState) arith(e query.Arith, compile func(query.Expr) (string, error)) (string, error) {
	left, err := compile(e.Left)
	if err != nil {
		return "", err
	}
	right, err := compile(e.Right)
	if err != nil {
		return "", err
	}
	switch e.Op {
	case query.ArithAdd, query.ArithSub, query.ArithMul:
	default:
		return "", fmt.Errorf("unsupported arithmetic operator %q", e.Op)
	}
	return "(" + left + " " + string(e.Op) + " " + right + ")", nil
}

// literal inlines numeric constants so the database can type the surrounding
// arithmetic; anything else is bound.
func (s *compileState) literal(v any) string {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case int64:
		return strconv.FormatInt(n, 10)
	case float64:
		return strconv.FormatFloat(n, 'g', -1, 64)
	default:
		return s.bind(v)
	}
}

func aggregateCall(fn query.AggregateFunc, expr string) string {
	return strings.ToUpper(string(fn)) + "(" + expr + ")"
}
