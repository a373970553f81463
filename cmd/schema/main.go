package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"tankbattle-server/internal/game"
)

// documents lists the wire messages a schema is generated for
var documents = []struct {
	file        string
	title       string
	description string
	v           any
}{
	{"command.schema.json", "Tank battle command", "Frame sent by a player: a move in one direction or a shot", new(game.Command)},
	{"state.schema.json", "Tank battle snapshot", "Frame broadcast after every simulation step", new(game.StateMessage)},
	{"event.schema.json", "Tank battle event", "Battle-wide event such as the end of the match", new(game.EventMessage)},
	{"map.schema.json", "Tank battle map", "Map definition as stored in the catalog and sent with snapshots", new(game.MapDef)},
}

func main() {
	var outDir string
	flag.StringVar(&outDir, "out", "", "directory to write the JSON schemas to")
	flag.Parse()

	if outDir == "" {
		fmt.Fprintln(os.Stderr, "--out is required")
		os.Exit(1)
	}

	for _, doc := range documents {
		schema := buildSchema(doc.v, doc.title, doc.description)
		if err := writeSchema(filepath.Join(outDir, doc.file), schema); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", doc.file, err)
			os.Exit(1)
		}
	}
}

func buildSchema(v any, title, description string) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(v)
	schema.Title = title
	schema.Description = description
	return schema
}

func writeSchema(outPath string, schema *jsonschema.Schema) error {
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create schema directory: %w", err)
	}

	tmpPath := outPath + ".tmp"
	if err := os.WriteFile(tmpPath, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write temp schema: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("replace schema: %w", err)
	}
	return nil
}
