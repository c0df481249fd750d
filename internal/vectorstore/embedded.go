package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	_ "modernc.org/sqlite"
)

// NewEmbeddedStore opens (creating if necessary) an on-disk sqlite database
// for the embedded vector-store backend (spec.md §4.3's "embedded on-disk
// store"). Similarity search is a brute-force cosine scan in Go: the
// dataset this backend serves (one vector per paper a single deployment
// has ingested) is small enough that an index would be premature, and it
// keeps the backend free of a native vector extension dependency.
func NewEmbeddedStore(path string, dimensions int) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open embedded vector store: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}'
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vectors table: %w", err)
	}
	return &embeddedStore{db: db, dimensions: dimensions}, nil
}

type embeddedStore struct {
	db         *sql.DB
	dimensions int
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func (s *embeddedStore) Add(ctx context.Context, docs []Document) error {
	for _, chunk := range chunks(docs, BatchChunkSize) {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, d := range chunk {
			md, err := json.Marshal(d.Metadata)
			if err != nil {
				tx.Rollback()
				return err
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO vectors (id, text, embedding, metadata) VALUES (?,?,?,?)
ON CONFLICT (id) DO UPDATE SET text=excluded.text, embedding=excluded.embedding, metadata=excluded.metadata`,
				d.ID, d.Text, encodeVector(d.Embedding), string(md)); err != nil {
				tx.Rollback()
				return err
			}
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

func (s *embeddedStore) scanAll(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, embedding, metadata FROM vectors`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Document
	for rows.Next() {
		var d Document
		var emb []byte
		var md string
		if err := rows.Scan(&d.ID, &d.Text, &emb, &md); err != nil {
			return nil, err
		}
		d.Embedding = decodeVector(emb)
		if err := json.Unmarshal([]byte(md), &d.Metadata); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func matchesConjunction(metadata map[string]string, cond map[string]string) bool {
	for k, v := range cond {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

func matchesFilter(metadata map[string]string, filter Filter) bool {
	if len(filter) == 0 {
		return true
	}
	for _, conj := range filter {
		if matchesConjunction(metadata, conj) {
			return true
		}
	}
	return false
}

func (s *embeddedStore) DeleteByFilter(ctx context.Context, filter map[string]string) error {
	docs, err := s.scanAll(ctx)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, d := range docs {
		if matchesConjunction(d.Metadata, filter) {
			if _, err := tx.ExecContext(ctx, `DELETE FROM vectors WHERE id=?`, d.ID); err != nil {
				tx.Rollback()
				return err
			}
		}
	}
	return tx.Commit()
}

func (s *embeddedStore) SearchByVector(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	docs, err := s.scanAll(ctx)
	if err != nil {
		return nil, err
	}
	var results []Result
	for _, d := range docs {
		if !matchesFilter(d.Metadata, filter) {
			continue
		}
		results = append(results, Result{ID: d.ID, Text: d.Text, Score: cosine(query, d.Embedding), Metadata: d.Metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *embeddedStore) GetEmbeddings(ctx context.Context, conditions []Condition) (map[string][]float32, error) {
	out := make(map[string][]float32, len(conditions))
	for _, c := range conditions {
		id := DocID(c.UserID, c.PaperID)
		var emb []byte
		err := s.db.QueryRowContext(ctx, `SELECT embedding FROM vectors WHERE id=?`, id).Scan(&emb)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[id] = decodeVector(emb)
	}
	return out, nil
}

func (s *embeddedStore) BatchExists(ctx context.Context, userID int64, paperIDs []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(paperIDs))
	for _, pid := range paperIDs {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM vectors WHERE id=?`, DocID(userID, pid)).Scan(&exists)
		out[pid] = err == nil
		if err != nil && err != sql.ErrNoRows {
			return nil, err
		}
	}
	return out, nil
}

func (s *embeddedStore) Dimension() int { return s.dimensions }

func (s *embeddedStore) Close() error { return s.db.Close() }
