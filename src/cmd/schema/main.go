// Command schema prints the Postgres DDL of every model, for Atlas:
//
//	data "external_schema" "gorm" {
//	  program = ["go", "run", "./src/cmd/schema"]
//	}
package main

import (
	"fmt"
	"io"
	"os"
	"ticketing/src/models"

	"ariga.io/atlas-provider-gorm/gormschema"
)

func main() {
	stmts, err := gormschema.New("postgres").Load(models.All()...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
