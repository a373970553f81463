package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"tankbattle-server/internal/game"
)

// SeedMaps loads every *.json map definition in dir into the catalog.
// Definitions are validated the same way a battle would load them.
func SeedMaps(ctx context.Context, c Catalog, dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, err
	}
	for i, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return i, err
		}
		var def game.MapDef
		if err := json.Unmarshal(data, &def); err != nil {
			return i, fmt.Errorf("%s: %w", path, err)
		}
		if _, err := game.NewMap(def); err != nil {
			return i, fmt.Errorf("%s: %w", path, err)
		}
		if err := c.PutMap(ctx, def); err != nil {
			return i, fmt.Errorf("%s: %w", path, err)
		}
	}
	return len(paths), nil
}
