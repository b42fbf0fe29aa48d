// Command fuelwitnessctl registers origins with a witness database and
// lists what it already trusts.
package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
	"os"

	"crawshaw.io/sqlite"

	"github.com/fuellabs/fuel-merkle-go/witness"
)

func usage() {
	fmt.Printf("Usage: %s <command> [options]\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("    add-log -db <path> -origin <origin> -key <base64-encoded Ed25519 key>")
	fmt.Println("    list-logs -db <path>")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "add-log":
		fs := flag.NewFlagSet("add-log", flag.ExitOnError)
		dbFlag := fs.String("db", "fuelwitness.db", "path to sqlite database")
		originFlag := fs.String("origin", "", "log name")
		keyFlag := fs.String("key", "", "base64-encoded key")
		fs.Parse(os.Args[2:])
		key, err := base64.StdEncoding.DecodeString(*keyFlag)
		if err != nil {
			log.Fatal(err)
		}
		if len(key) != ed25519.PublicKeySize {
			log.Fatalf("key must be %d bytes, got %d", ed25519.PublicKeySize, len(key))
		}
		db := openDB(*dbFlag)
		defer db.Close()
		if err := witness.RegisterLog(db, *originFlag, ed25519.PublicKey(key)); err != nil {
			log.Fatal(err)
		}
		log.Printf("Added log %q.", *originFlag)

	case "list-logs":
		fs := flag.NewFlagSet("list-logs", flag.ExitOnError)
		dbFlag := fs.String("db", "fuelwitness.db", "path to sqlite database")
		fs.Parse(os.Args[2:])
		db := openDB(*dbFlag)
		defer db.Close()
		if err := witness.ListLogs(db, os.Stdout); err != nil {
			log.Fatal(err)
		}

	default:
		usage()
	}
}

func openDB(dbPath string) *sqlite.Conn {
	db, err := witness.OpenDB(dbPath)
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	return db
}
