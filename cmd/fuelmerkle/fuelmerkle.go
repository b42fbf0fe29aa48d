// Command fuelmerkle operates a sparse Merkle tree against a selectable
// storage backend, one subcommand per invocation.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/fuellabs/fuel-merkle-go/merkle"
	"github.com/fuellabs/fuel-merkle-go/merkle/smt"
	"github.com/fuellabs/fuel-merkle-go/merkle/smt/smtdynamo"
	"github.com/fuellabs/fuel-merkle-go/merkle/smt/smtsqlite"
)

func usage() {
	fmt.Printf("Usage: %s <command> -backend <memory|sqlite|dynamodb> [options]\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("    put -key <hex> -value <string>")
	fmt.Println("    delete -key <hex>")
	fmt.Println("    get -key <hex>")
	fmt.Println("    root")
	fmt.Println("    prove -key <hex>")
	fmt.Println("    verify -proof <path to JSON proof>")
	fmt.Println("    load-set -file <path to JSON [{key,value}] array>")
	fmt.Println("Common options: -backend, -db (sqlite path or dynamodb table), -root-file (memory/sqlite root cache)")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cmd := os.Args[1]
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	backendFlag := fs.String("backend", "memory", "storage backend: memory, sqlite, dynamodb")
	dbFlag := fs.String("db", "fuelmerkle.db", "sqlite database path, or dynamodb table name")
	rootFileFlag := fs.String("root-file", "fuelmerkle.root", "file caching the current root (memory and sqlite backends)")
	keyFlag := fs.String("key", "", "hex-encoded 32-byte key")
	valueFlag := fs.String("value", "", "value to store")
	proofFlag := fs.String("proof", "", "path to a JSON-encoded proof")
	fileFlag := fs.String("file", "", "path to a JSON array of {\"key\":hex,\"value\":string} entries")
	fs.Parse(os.Args[2:])

	switch cmd {
	case "put":
		storage, root := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		tr := loadTree(storage, root)
		key := parseKey(*keyFlag)
		if err := tr.Insert(key, []byte(*valueFlag)); err != nil {
			log.Fatalf("insert: %v", err)
		}
		saveRoot(*backendFlag, *rootFileFlag, tr.Root())
		fmt.Println(tr.Root())

	case "delete":
		storage, root := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		tr := loadTree(storage, root)
		key := parseKey(*keyFlag)
		if err := tr.Delete(key); err != nil {
			log.Fatalf("delete: %v", err)
		}
		saveRoot(*backendFlag, *rootFileFlag, tr.Root())
		fmt.Println(tr.Root())

	case "get":
		storage, root := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		tr := loadTree(storage, root)
		key := parseKey(*keyFlag)
		vh, ok, err := tr.Lookup(key)
		if err != nil {
			log.Fatalf("lookup: %v", err)
		}
		if !ok {
			fmt.Println("not found")
			os.Exit(1)
		}
		fmt.Printf("%s\n", vh)

	case "root":
		_, root := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		fmt.Println(root)

	case "prove":
		storage, root := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		tr := loadTree(storage, root)
		key := parseKey(*keyFlag)
		proof, err := tr.GenerateProof(key)
		if err != nil {
			log.Fatalf("generate proof: %v", err)
		}
		enc, err := json.MarshalIndent(encodeProof(proof), "", "  ")
		if err != nil {
			log.Fatalf("encode proof: %v", err)
		}
		fmt.Println(string(enc))

	case "verify":
		if *proofFlag == "" {
			log.Fatal("-proof is required")
		}
		data, err := os.ReadFile(*proofFlag)
		if err != nil {
			log.Fatalf("reading proof: %v", err)
		}
		var wp wireProof
		if err := json.Unmarshal(data, &wp); err != nil {
			log.Fatalf("decoding proof: %v", err)
		}
		if smt.Verify(wp.toProof()) {
			fmt.Println("valid")
		} else {
			fmt.Println("invalid")
			os.Exit(1)
		}

	case "load-set":
		if *fileFlag == "" {
			log.Fatal("-file is required")
		}
		data, err := os.ReadFile(*fileFlag)
		if err != nil {
			log.Fatalf("reading set: %v", err)
		}
		var wireEntries []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(data, &wireEntries); err != nil {
			log.Fatalf("decoding set: %v", err)
		}
		entries := make([]smt.Entry, len(wireEntries))
		for i, e := range wireEntries {
			entries[i] = smt.Entry{Key: parseKeyString(e.Key), Value: []byte(e.Value)}
		}
		storage, _ := openStorage(*backendFlag, *dbFlag, *rootFileFlag)
		tr, err := smt.FromSet(storage, entries)
		if err != nil {
			log.Fatalf("building set: %v", err)
		}
		saveRoot(*backendFlag, *rootFileFlag, tr.Root())
		fmt.Println(tr.Root())

	default:
		usage()
	}
}

func parseKey(s string) merkle.Hash {
	if s == "" {
		log.Fatal("-key is required")
	}
	return parseKeyString(s)
}

func parseKeyString(s string) merkle.Hash {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil || len(b) != 32 {
		log.Fatalf("key must be 32 hex-encoded bytes, got %q", s)
	}
	return merkle.HashFromBytes(b)
}

// openStorage opens the named backend and returns it along with the root
// cached in the root-file sidecar (ZeroHash if the file is missing or
// malformed). The sidecar is read for every backend, but saveRoot only
// writes it for the memory and sqlite backends.
func openStorage(backend, db, rootFile string) (smt.Storage, merkle.Hash) {
	switch backend {
	case "memory":
		return smt.NewMemoryStorage(), readRoot(rootFile)
	case "sqlite":
		s, err := smtsqlite.Open(context.Background(), db)
		if err != nil {
			log.Fatalf("opening sqlite storage: %v", err)
		}
		return s, readRoot(rootFile)
	case "dynamodb":
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("loading AWS config: %v", err)
		}
		client := dynamodb.NewFromConfig(cfg)
		return smtdynamo.New(client, db), readRoot(rootFile)
	default:
		log.Fatalf("unknown backend %q", backend)
		return nil, merkle.ZeroHash
	}
}

func loadTree(storage smt.Storage, root merkle.Hash) *smt.Tree {
	tr, err := smt.Load(storage, root)
	if err != nil {
		log.Fatalf("loading tree: %v", err)
	}
	return tr
}

func readRoot(rootFile string) merkle.Hash {
	data, err := os.ReadFile(rootFile)
	if err != nil {
		return merkle.ZeroHash
	}
	b, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(b) != 32 {
		return merkle.ZeroHash
	}
	return merkle.HashFromBytes(b)
}

func saveRoot(backend, rootFile string, root merkle.Hash) {
	if backend == "dynamodb" {
		return
	}
	if err := os.WriteFile(rootFile, []byte(root.String()+"\n"), 0o600); err != nil {
		log.Fatalf("saving root: %v", err)
	}
}

type wireProofStep struct {
	Depth   uint32 `json:"depth"`
	Sibling string `json:"sibling"`
}

type wireProofLeaf struct {
	LeafKey   string `json:"leaf_key"`
	ValueHash string `json:"value_hash"`
}

type wireProof struct {
	Root  string          `json:"root"`
	Key   string          `json:"key"`
	Kind  string          `json:"kind"`
	Steps []wireProofStep `json:"steps"`
	Leaf  *wireProofLeaf  `json:"leaf,omitempty"`
}

func encodeProof(p *smt.Proof) wireProof {
	wp := wireProof{
		Root: p.Root.String(),
		Key:  p.Key.String(),
		Kind: p.Kind.String(),
	}
	for _, s := range p.Steps {
		wp.Steps = append(wp.Steps, wireProofStep{Depth: s.Depth, Sibling: s.Sibling.String()})
	}
	if p.Leaf != nil {
		wp.Leaf = &wireProofLeaf{LeafKey: p.Leaf.LeafKey.String(), ValueHash: p.Leaf.ValueHash.String()}
	}
	return wp
}

func (wp wireProof) toProof() *smt.Proof {
	p := &smt.Proof{
		Root: parseKeyString(wp.Root),
		Key:  parseKeyString(wp.Key),
	}
	if wp.Kind == "inclusion" {
		p.Kind = smt.Inclusion
	} else {
		p.Kind = smt.Exclusion
	}
	for _, s := range wp.Steps {
		p.Steps = append(p.Steps, smt.ProofStep{Depth: s.Depth, Sibling: parseKeyString(s.Sibling)})
	}
	if wp.Leaf != nil {
		p.Leaf = &smt.ProofLeaf{
			LeafKey:   parseKeyString(wp.Leaf.LeafKey),
			ValueHash: parseKeyString(wp.Leaf.ValueHash),
		}
	}
	return p
}
