package main

// ============================================================================
// Store
// ============================================================================

const (
	// defaultStoreDir holds the bbolt database and bleve index when db_path
	// is not configured.
	defaultStoreDir = ".ecmalinks"
)

// ============================================================================
// Output
// ============================================================================

const (
	// defaultSearchLimit caps search results for the CLI and MCP tools.
	defaultSearchLimit = 20

	// maxCellWidth truncates long table cells.
	maxCellWidth = 60

	// linkedSuffix is inserted before the extension of linked output files
	// when --out-dir is not given.
	linkedSuffix = ".linked"
)
