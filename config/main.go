// Package config holds the editor's startup configuration.
package config

import (
	"encoding/json"
	"fmt"
)

type Config struct {
	// EngineURL is the base URL of the simulation engine.
	EngineURL string `json:"engine-url"`
	// KanbanAddr is the listen address of the web surface. Empty
	// disables it.
	KanbanAddr string `json:"kanban-addr"`
	// WorkspacePath is the buntdb file holding the saved documents.
	WorkspacePath  string `json:"workspace-path"`
	TickMS         int    `json:"tick-ms"`
	Frequency      uint64 `json:"frequency"`
	StringlinePath string `json:"stringline-path"`
}

func Default() Config {
	return Config{
		EngineURL:      "http://localhost:8001",
		KanbanAddr:     "0.0.0.0:8080",
		WorkspacePath:  "rosen.db",
		TickMS:         100,
		Frequency:      60,
		StringlinePath: "stringline.png",
	}
}

// Parse decodes data over the defaults, so a partial file only
// overrides what it names.
func Parse(data []byte) (Config, error) {
	c := Default()
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}
