package demosdk

import (
	"embed"
	"io/fs"
)

//go:embed catalog/*.json catalog/*.yaml
var catalogFS embed.FS

//go:embed scenarios/*.yaml
var scenarioFS embed.FS

// CatalogFS returns the descriptor tables of the demo SDK, one file per area,
// at the root of the returned FS.
func CatalogFS() fs.FS {
	sub, err := fs.Sub(catalogFS, "catalog")
	if err != nil {
		panic(err)
	}
	return sub
}

// ScenarioFS returns the bundled example scenarios.
func ScenarioFS() fs.FS {
	sub, err := fs.Sub(scenarioFS, "scenarios")
	if err != nil {
		panic(err)
	}
	return sub
}

// CatalogPatterns are the glob patterns matching every table in CatalogFS.
var CatalogPatterns = []string{"*.json", "*.yaml"}
