// Command eideticatool is a small smoke-test harness: it opens a
// bolt-backed store at -db, bootstraps a brand-new Database in it, commits
// one Transaction, and prints the root and new Entry IDs. backend.Backend has
// no tree-listing operation (a Database's identity is structural), so each
// run creates a fresh root rather than rediscovering a previous one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/cuemby/eidetica/internal/log"
	"github.com/cuemby/eidetica/pkg/backend/boltbackend"
	"github.com/cuemby/eidetica/pkg/crdt"
	"github.com/cuemby/eidetica/pkg/database"
	"github.com/cuemby/eidetica/pkg/identity"
)

func main() {
	dbPath := flag.String("db", "eidetica.db", "path to the bolt-backed database file")
	name := flag.String("name", "eideticatool", "name recorded in a freshly bootstrapped database's _settings")
	flag.Parse()

	if err := run(*dbPath, *name); err != nil {
		fmt.Fprintf(os.Stderr, "eideticatool: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath, name string) error {
	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: false, Output: os.Stderr})

	b, err := boltbackend.Open(dbPath)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := context.Background()
	key, err := identity.GenerateKey()
	if err != nil {
		return err
	}

	db, err := database.Create(ctx, b, key, name)
	if err != nil {
		return err
	}

	tx, err := db.NewTransaction(ctx)
	if err != nil {
		return err
	}
	s, err := tx.GetStore(ctx, "data")
	if err != nil {
		return err
	}
	if err := s.Set("touched_by", crdt.TextValue("eideticatool")); err != nil {
		return err
	}

	entryID, err := tx.Commit(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("root=%s entry=%s\n", db.Root(), entryID)
	return nil
}
