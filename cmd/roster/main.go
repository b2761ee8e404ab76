package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"geoattend/internal/attendance"
	"geoattend/internal/config"
	"geoattend/internal/store"
)

const usage = `usage: roster <command> [args]

  student <id> <name>        add or rename a student
  teacher <id> <name>        add or rename a teacher
  enroll  <student> <subject> enroll a student in a subject
  import  <file.csv>         apply rows of kind,id,value (kind is student, teacher or enroll)`

func main() {
	flag.Usage = func() { fmt.Fprintln(os.Stderr, usage) }
	flag.Parse()
	if flag.NArg() < 2 {
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Load()
	var (
		db  *store.DB
		err error
	)
	switch cfg.LedgerBackend {
	case "postgres":
		db, err = store.NewDB(cfg.DatabaseURL)
	case "sqlite":
		db, err = store.NewSQLite(cfg.SQLitePath)
	default:
		log.Fatalf("roster needs a postgres or sqlite ledger, got %q", cfg.LedgerBackend)
	}
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := store.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate failed: %v", err)
	}
	repo := attendance.NewRepository(db)

	args := flag.Args()
	if args[0] == "import" {
		f, err := os.Open(args[1])
		if err != nil {
			log.Fatalf("open %s: %v", args[1], err)
		}
		defer f.Close()
		n, err := importRows(ctx, repo, f)
		if err != nil {
			log.Fatalf("import stopped after %d row(s): %v", n, err)
		}
		log.Printf("imported %d row(s)", n)
		return
	}
	if len(args) < 3 {
		flag.Usage()
		os.Exit(2)
	}
	if err := apply(ctx, repo, args[0], args[1], args[2]); err != nil {
		log.Fatalf("%s: %v", args[0], err)
	}
}

type rosterWriter interface {
	UpsertStudent(ctx context.Context, id, name string) error
	UpsertTeacher(ctx context.Context, id, name string) error
	Enroll(ctx context.Context, studentID, subjectCode string) error
}

func apply(ctx context.Context, w rosterWriter, kind, id, value string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "student":
		return w.UpsertStudent(ctx, id, value)
	case "teacher":
		return w.UpsertTeacher(ctx, id, value)
	case "enroll":
		return w.Enroll(ctx, id, value)
	}
	return fmt.Errorf("unknown command %q", kind)
}

// importRows applies CSV rows in order. Blank lines and rows starting with # are
// skipped.
func importRows(ctx context.Context, w rosterWriter, r io.Reader) (int, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	n := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := apply(ctx, w, row[0], strings.TrimSpace(row[1]), strings.TrimSpace(row[2])); err != nil {
			return n, fmt.Errorf("row %d: %w", n+1, err)
		}
		n++
	}
}
