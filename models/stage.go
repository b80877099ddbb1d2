package models

import (
	"fmt"

	"github.com/gosimple/slug"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StageDefinition describes one of the six fixed quest stages.
type StageDefinition struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// The quest line content itself lives in the excluded UI layer; the
// pipeline only needs stable names for notifications and read endpoints.
var stageNames = [MaxStageID]string{
	"environment setup",
	"version control basics",
	"frontend fundamentals",
	"backend fundamentals",
	"database integration",
	"final project",
}

var titleCaser = cases.Title(language.English)

// StageCatalog returns the fixed six-stage catalog in order.
func StageCatalog() []StageDefinition {
	defs := make([]StageDefinition, 0, MaxStageID)
	for i, name := range stageNames {
		defs = append(defs, StageDefinition{
			ID:    i + 1,
			Title: titleCaser.String(name),
			Slug:  slug.Make(name),
		})
	}
	return defs
}

// StageTitle returns the display title for a stage id, degrading to a
// generic label for ids outside the catalog.
func StageTitle(id int) string {
	if !ValidStageID(id) {
		return fmt.Sprintf("Stage %d", id)
	}
	return titleCaser.String(stageNames[id-1])
}
