// Command schema-generator writes the airlock.yml JSON Schema for editors
// and CI checks.
package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/grovetools/airlock/config"
)

func main() {
	out := flag.String("out", "schema/definitions/airlock.schema.json", "output file")
	flag.Parse()

	schemaBytes, err := config.GenerateSchema()
	if err != nil {
		log.Fatalf("Error generating schema: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0755); err != nil {
		log.Fatalf("Error creating schema directory: %v", err)
	}
	if err := os.WriteFile(*out, append(schemaBytes, '\n'), 0644); err != nil {
		log.Fatalf("Error writing schema file: %v", err)
	}

	log.Printf("Wrote airlock schema to %s", *out)
}
