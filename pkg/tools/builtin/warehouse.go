package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/metricsmith/sage/pkg/model"
	"github.com/metricsmith/sage/pkg/tools"
)

const warehouseRowCap = 200

// WarehouseConfig configures the analytics warehouse connection.
type WarehouseConfig struct {
	DSN string `yaml:"dsn"`

	// Schema restricts listing and querying. Defaults to "public".
	Schema string `yaml:"schema,omitempty"`
}

func (c *WarehouseConfig) SetDefaults() {
	if c.Schema == "" {
		c.Schema = "public"
	}
}

func (c *WarehouseConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("warehouse dsn is required")
	}
	return nil
}

// RegisterWarehouseTools wires read-only SQL access to the marketing
// warehouse.
func RegisterWarehouseTools(ctx context.Context, registry *tools.Registry, cfg WarehouseConfig) error {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return fmt.Errorf("failed to connect to warehouse: %w", err)
	}

	for _, tool := range []tools.Tool{
		&listTablesTool{pool: pool, schema: cfg.Schema},
		&warehouseQueryTool{pool: pool},
	} {
		if err := registry.RegisterTool(tool); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// warehouse_list_tables
// ============================================================================

type listTablesArgs struct{}

type listTablesTool struct {
	pool   *pgxpool.Pool
	schema string
}

func (t *listTablesTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "warehouse_list_tables",
		Description: "List the tables available in the marketing warehouse, with their columns and types.",
		Parameters:  tools.MustSchema[listTablesArgs](),
	}
}

func (t *listTablesTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	rows, err := t.pool.Query(ctx, `
		SELECT table_name, column_name, data_type
		FROM information_schema.columns
		WHERE table_schema = $1
		ORDER BY table_name, ordinal_position
	`, t.schema)
	if err != nil {
		return "", tools.NewTransientError("warehouse_list_tables", "schema query failed", err)
	}
	defer rows.Close()

	tables := map[string][]map[string]string{}
	for rows.Next() {
		var table, column, dataType string
		if err := rows.Scan(&table, &column, &dataType); err != nil {
			return "", tools.NewPermanentError("warehouse_list_tables", "failed to scan schema row", err)
		}
		tables[table] = append(tables[table], map[string]string{"column": column, "type": dataType})
	}
	if err := rows.Err(); err != nil {
		return "", tools.NewTransientError("warehouse_list_tables", "schema query failed", err)
	}

	out, err := json.Marshal(map[string]any{"schema": t.schema, "tables": tables})
	if err != nil {
		return "", tools.NewPermanentError("warehouse_list_tables", "failed to encode result", err)
	}
	return string(out), nil
}

// ============================================================================
// warehouse_query
// ============================================================================

type warehouseQueryArgs struct {
	SQL string `json:"sql" jsonschema:"required,description=A single read-only SELECT statement"`
}

type warehouseQueryTool struct {
	pool *pgxpool.Pool
}

func (t *warehouseQueryTool) Definition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        "warehouse_query",
		Description: fmt.Sprintf("Run a read-only SELECT against the marketing warehouse. Results are capped at %d rows.", warehouseRowCap),
		Parameters:  tools.MustSchema[warehouseQueryArgs](),
	}
}

func (t *warehouseQueryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sql, _ := args["sql"].(string)
	if err := checkReadOnly(sql); err != nil {
		return "", tools.NewPermanentError("warehouse_query", err.Error(), nil)
	}

	rows, err := t.pool.Query(ctx, sql)
	if err != nil {
		// Syntax and reference errors come back here; the model can fix
		// the statement, so treat them as permanent.
		return "", tools.NewPermanentError("warehouse_query", "query failed", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	var results []map[string]any
	truncated := false
	for rows.Next() {
		if len(results) >= warehouseRowCap {
			truncated = true
			break
		}
		values, err := rows.Values()
		if err != nil {
			return "", tools.NewPermanentError("warehouse_query", "failed to read row", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return "", tools.NewTransientError("warehouse_query", "query failed", err)
	}

	out, err := json.Marshal(map[string]any{
		"columns":   columns,
		"rows":      results,
		"row_count": len(results),
		"truncated": truncated,
	})
	if err != nil {
		return "", tools.NewPermanentError("warehouse_query", "failed to encode result", err)
	}
	return string(out), nil
}

// checkReadOnly rejects anything that is not a single SELECT or WITH
// statement. This is a guard against model mistakes, not a security
// boundary; the warehouse role should be read-only too.
func checkReadOnly(sql string) error {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	if trimmed == "" {
		return fmt.Errorf("sql cannot be empty")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("only a single statement is allowed")
	}
	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT statements are allowed")
	}
	for _, keyword := range []string{"INSERT ", "UPDATE ", "DELETE ", "DROP ", "ALTER ", "TRUNCATE ", "GRANT ", "CREATE "} {
		if strings.Contains(upper, keyword) {
			return fmt.Errorf("statement contains forbidden keyword %q", strings.TrimSpace(keyword))
		}
	}
	return nil
}
