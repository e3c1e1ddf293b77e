package main

import (
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"sort"

	"auction-engine/internal/config"

	_ "github.com/lib/pq"
)

// Applies every file under migrations/ in lexical order. Statements are
// written to be re-runnable, so applying the whole directory is safe.
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Connect to database
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	log.Println("Connected to database successfully")

	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}
	if len(files) == 0 {
		log.Fatal("No migration files found under migrations/")
	}
	sort.Strings(files)

	for _, file := range files {
		migrationSQL, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", file, err)
		}

		log.Printf("Applying migration: %s", filepath.Base(file))
		if _, err := db.Exec(string(migrationSQL)); err != nil {
			log.Fatalf("Failed to apply migration %s: %v", file, err)
		}
	}

	log.Println("✅ All migrations applied successfully!")
}
