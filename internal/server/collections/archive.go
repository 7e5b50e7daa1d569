package collections

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/vaultnode/internal/common"
	"github.com/dmitrijs2005/vaultnode/internal/dbx"
	"github.com/dmitrijs2005/vaultnode/internal/server/models"
	"github.com/dmitrijs2005/vaultnode/internal/server/repositories/documents"
)

// archiveRecord is one line of a database archive.
type archiveRecord struct {
	Collection string            `json:"collection"`
	Documents  []json.RawMessage `json:"documents"`
}

// maxArchiveLine bounds a single collection record when reading an archive.
const maxArchiveLine = 256 << 20

// DumpArchive writes every collection of ns as one JSON line. Transfer rows
// are ephemeral and are not archived.
func (s *Service) DumpArchive(ctx context.Context, ns models.Namespace, w io.Writer) error {
	repo := s.repomanager.Documents(s.db)
	names, err := repo.ListCollections(ctx, ns)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, name := range names {
		if name == common.TransfersCollection {
			continue
		}
		rows, err := repo.Scan(ctx, ns, name)
		if err != nil {
			return err
		}
		rec := archiveRecord{Collection: name, Documents: make([]json.RawMessage, 0, len(rows))}
		for _, r := range rows {
			rec.Documents = append(rec.Documents, json.RawMessage(r.Body))
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("write archive: %w", err)
		}
	}
	return nil
}

// RestoreArchive replaces all collections of ns with the archive content.
// Documents are imported verbatim, timestamps included.
func (s *Service) RestoreArchive(ctx context.Context, ns models.Namespace, r io.Reader) error {
	var records []archiveRecord
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxArchiveLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec archiveRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return common.BadRequestf("corrupt archive: %v", err)
		}
		if rec.Collection == "" {
			return common.BadRequestf("corrupt archive: record without collection")
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read archive: %w", err)
	}

	now := s.now()
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Documents(tx)
		existing, err := repo.ListCollections(ctx, ns)
		if err != nil {
			return err
		}
		for _, name := range existing {
			if _, err := repo.DropCollection(ctx, ns, name); err != nil {
				return err
			}
		}

		for _, rec := range records {
			if _, err := repo.CreateCollection(ctx, ns, rec.Collection, now); err != nil {
				return err
			}
			rows := make([]documents.Document, 0, len(rec.Documents))
			for _, raw := range rec.Documents {
				var head struct {
					ID string `json:"_id"`
				}
				if err := json.Unmarshal(raw, &head); err != nil || head.ID == "" {
					return common.BadRequestf("corrupt archive: document without _id in %s", rec.Collection)
				}
				rows = append(rows, documents.Document{ID: head.ID, Body: raw})
			}
			if err := repo.Insert(ctx, ns, rec.Collection, rows); err != nil {
				return err
			}
		}
		return nil
	})
}
