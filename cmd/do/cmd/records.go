package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/templui/tracker/internal/config"
	"github.com/templui/tracker/internal/db"
	"github.com/templui/tracker/internal/docstore"
	"github.com/templui/tracker/internal/journal"
	"github.com/templui/tracker/internal/markdown"
	"github.com/templui/tracker/internal/model"
	"github.com/templui/tracker/internal/repository"
)

func ImportCmd() *cobra.Command {
	var email string
	c := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import markdown files as records owned by a principal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), email, func(ctx context.Context, store docstore.Store, principal *model.Principal) error {
				return importFiles(ctx, store, principal.ID, args, cmd.OutOrStdout())
			})
		},
	}
	c.Flags().StringVar(&email, "email", "", "email of the principal that owns the records")
	_ = c.MarkFlagRequired("email")
	return c
}

func ExportCmd() *cobra.Command {
	var (
		email string
		out   string
	)
	c := &cobra.Command{
		Use:   "export",
		Short: "Write a principal's records as an export document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPrincipal(cmd.Context(), email, func(ctx context.Context, store docstore.Store, principal *model.Principal) error {
				w := cmd.OutOrStdout()
				if out != "" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer f.Close()
					w = f
				}
				return exportRecords(ctx, store, principal.ID, w)
			})
		},
	}
	c.Flags().StringVar(&email, "email", "", "email of the principal to export")
	c.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	_ = c.MarkFlagRequired("email")
	return c
}

func withPrincipal(ctx context.Context, email string, fn func(context.Context, docstore.Store, *model.Principal) error) error {
	cfg := config.Load()
	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close(database)

	principal, err := lookupPrincipal(database, email)
	if err != nil {
		return err
	}
	store := docstore.NewSQLStore(database)
	return fn(docstore.WithCaller(ctx, principal.ID), store, principal)
}

func lookupPrincipal(database *sqlx.DB, email string) (*model.Principal, error) {
	principal, err := repository.NewPrincipalRepository(database).ByEmail(strings.TrimSpace(email))
	if errors.Is(err, repository.ErrPrincipalNotFound) {
		return nil, fmt.Errorf("no principal with email %q", email)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}
	return principal, nil
}

// importFiles stores every file it can parse and reports the rest.
func importFiles(ctx context.Context, store docstore.Store, principalID string, paths []string, w io.Writer) error {
	parser := markdown.NewParser()
	collection := docstore.CollectionPath(principalID)
	now := time.Now().UTC()

	var errs []error
	for _, path := range paths {
		rec, err := importFile(parser, path, principalID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		if err := store.Set(ctx, collection, rec.ID, data); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			continue
		}
		fmt.Fprintf(w, "imported %s as %s %q\n", path, rec.Kind, rec.Title)
	}
	return errors.Join(errs...)
}

func importFile(parser *markdown.Parser, path, principalID string, now time.Time) (*model.Record, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rec, err := parser.Import(source)
	if err != nil {
		return nil, err
	}

	rec.ID = uuid.NewString()
	rec.PrincipalID = principalID
	rec.ApplyDefaults()
	if rec.Kind == model.KindMemo && rec.Date == "" {
		rec.Date = now.Format(model.DateLayout)
	}
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func exportRecords(ctx context.Context, store docstore.Store, principalID string, w io.Writer) error {
	docs, err := store.Query(ctx, docstore.CollectionPath(principalID))
	if err != nil {
		return fmt.Errorf("failed to read records: %w", err)
	}

	records := make([]*model.Record, 0, len(docs))
	for _, doc := range docs {
		rec := &model.Record{}
		if err := json.Unmarshal(doc, rec); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		records = append(records, rec)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(journal.Export{
		PrincipalID: principalID,
		ExportedAt:  time.Now().UTC(),
		SyncStatus:  model.SyncConnected,
		Records:     records,
	})
}
