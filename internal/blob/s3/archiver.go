package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/johndpope/erc20bet/internal/domain"
	"github.com/johndpope/erc20bet/internal/gamelog"
)

// multipartThreshold is the bundle size above which uploads go through the
// multipart manager.
const multipartThreshold = 8 * 1024 * 1024

// Archiver implements domain.ProofArchive. Each game is written as one JSON
// bundle with every ticket and proof. Once the result is known the winning
// claims are also written as JSONL, one claimBet argument set per line.
//
//	games/{id}.json
//	games/{id}/claims.jsonl
type Archiver struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	audit  domain.AuditStore
	now    func() time.Time
}

// NewArchiver creates an Archiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, reader domain.BlobReader, audit domain.AuditStore) *Archiver {
	return &Archiver{writer: writer, reader: reader, audit: audit, now: time.Now}
}

// bundle is the archived form of a game.
type bundle struct {
	Version    int         `json:"version"`
	ArchivedAt time.Time   `json:"archivedAt"`
	Game       domain.Game `json:"game"`
}

func gamePath(id common.Hash) string {
	return fmt.Sprintf("games/%s.json", id.Hex())
}

func claimsPath(id common.Hash) string {
	return fmt.Sprintf("games/%s/claims.jsonl", id.Hex())
}

// ArchiveGame uploads the game bundle and, for a resolved game, its claims.
// It returns the bundle path.
func (a *Archiver) ArchiveGame(ctx context.Context, game domain.Game) (string, error) {
	data, err := json.Marshal(bundle{Version: 1, ArchivedAt: a.now().UTC(), Game: game})
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal game %s: %w", game.ID.Hex(), err)
	}

	path := gamePath(game.ID)
	if len(data) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(data), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(data), "application/json")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive game %s: %w", game.ID.Hex(), err)
	}

	claims := 0
	if game.RandomNumber != nil {
		won := gamelog.Claims(&game, common.Address{})
		buf, err := marshalJSONL(won)
		if err != nil {
			return path, fmt.Errorf("s3blob: marshal claims of %s: %w", game.ID.Hex(), err)
		}
		if err := a.writer.Put(ctx, claimsPath(game.ID), bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return path, fmt.Errorf("s3blob: archive claims of %s: %w", game.ID.Hex(), err)
		}
		claims = len(won)
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.game", map[string]any{
			"game_id": game.ID.Hex(),
			"path":    path,
			"tickets": len(game.Tickets),
			"claims":  claims,
			"bytes":   len(data),
		}); err != nil {
			return path, fmt.Errorf("s3blob: archive game %s audit log: %w", game.ID.Hex(), err)
		}
	}
	return path, nil
}

// LoadGame reads a bundle back. A missing bundle is domain.ErrNotFound.
func (a *Archiver) LoadGame(ctx context.Context, id common.Hash) (domain.Game, error) {
	rc, err := a.reader.Get(ctx, gamePath(id))
	if err != nil {
		return domain.Game{}, err
	}
	defer rc.Close()

	var b bundle
	if err := json.NewDecoder(rc).Decode(&b); err != nil {
		return domain.Game{}, fmt.Errorf("s3blob: decode game %s: %w", id.Hex(), err)
	}
	if b.Game.ID != id {
		return domain.Game{}, fmt.Errorf("s3blob: bundle %s holds game %s: %w", gamePath(id), b.Game.ID.Hex(), domain.ErrMalformedLog)
	}
	return b.Game, nil
}

// marshalJSONL writes one compact JSON value per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.ProofArchive = (*Archiver)(nil)
