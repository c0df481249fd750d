package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField round-trips the original "user_N_paper_M" id through
// Qdrant's payload, since Qdrant point ids must be UUIDs or positive
// integers. Grounded on persistence/databases/qdrant_vector.go's identical
// convention.
const payloadIDField = "_original_id"

type qdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
	metric     string
}

// NewQdrantStore connects to a managed Qdrant instance for the C3 adapter's
// cloud-backend profile. dsn is parsed the same way as the teacher's
// generic databases.NewQdrantVector: host/port from the URL, gRPC port
// defaulting to 6334, optional "?api_key=" query parameter.
func NewQdrantStore(dsn, collection string, dimensions int, metric string) (Store, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorstore: qdrant collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	q := &qdrantStore{client: client, collection: collection, dimension: dimensions, metric: strings.ToLower(strings.TrimSpace(metric))}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	return q, nil
}

func (q *qdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if q.dimension <= 0 {
		return fmt.Errorf("vectorstore: qdrant requires dimensions > 0")
	}
	var distance qdrant.Distance
	switch q.metric {
	case "l2", "euclidean":
		distance = qdrant.Distance_Euclid
	case "ip", "dot":
		distance = qdrant.Distance_Dot
	default:
		distance = qdrant.Distance_Cosine
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(q.dimension), Distance: distance}),
	})
}

func pointIDFor(id string) *qdrant.PointId {
	if _, err := uuid.Parse(id); err == nil {
		return qdrant.NewIDUUID(id)
	}
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String())
}

func (q *qdrantStore) Add(ctx context.Context, docs []Document) error {
	for _, chunk := range chunks(docs, BatchChunkSize) {
		points := make([]*qdrant.PointStruct, 0, len(chunk))
		for _, d := range chunk {
			payload := make(map[string]any, len(d.Metadata)+2)
			for k, v := range d.Metadata {
				payload[k] = v
			}
			payload[payloadIDField] = d.ID
			payload["_text"] = d.Text
			vec := make([]float32, len(d.Embedding))
			copy(vec, d.Embedding)
			points = append(points, &qdrant.PointStruct{
				Id:      pointIDFor(d.ID),
				Vectors: qdrant.NewVectorsDense(vec),
				Payload: qdrant.NewValueMap(payload),
			})
		}
		if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: q.collection, Points: points}); err != nil {
			return fmt.Errorf("vectorstore: qdrant upsert: %w", err)
		}
	}
	return nil
}

// conjunctionCondition builds a single AND-group Qdrant condition out of a
// metadata equality map.
func conjunctionCondition(conj map[string]string) *qdrant.Condition {
	must := make([]*qdrant.Condition, 0, len(conj))
	for k, v := range conj {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return qdrant.NewFilterAsCondition(&qdrant.Filter{Must: must})
}

// translateFilter implements spec.md §4.3's "conjunctions into $and,
// disjunctions into $or" for Qdrant: each outer entry becomes a nested
// Must-filter, combined with Should (OR) at the top level.
func translateFilter(filter Filter) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	if len(filter) == 1 {
		return &qdrant.Filter{Must: conjunctionCondition(filter[0]).GetFilter().GetMust()}
	}
	should := make([]*qdrant.Condition, 0, len(filter))
	for _, conj := range filter {
		should = append(should, conjunctionCondition(conj))
	}
	return &qdrant.Filter{Should: should}
}

func (q *qdrantStore) DeleteByFilter(ctx context.Context, filter map[string]string) error {
	qf := translateFilter(And(filter))
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelectorFilter(qf),
	})
	if err != nil {
		return fmt.Errorf("vectorstore: qdrant delete by filter: %w", err)
	}
	return nil
}

func (q *qdrantStore) SearchByVector(ctx context.Context, query []float32, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(query))
	copy(vec, query)
	limit := uint64(k)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         translateFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant search: %w", err)
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hitToResult(hit.Id, hit.Payload, float64(hit.Score)))
	}
	return out, nil
}

func hitToResult(pointID *qdrant.PointId, payload map[string]*qdrant.Value, score float64) Result {
	metadata := make(map[string]string, len(payload))
	var originalID, text string
	for k, v := range payload {
		switch k {
		case payloadIDField:
			originalID = v.GetStringValue()
		case "_text":
			text = v.GetStringValue()
		default:
			metadata[k] = v.GetStringValue()
		}
	}
	id := originalID
	if id == "" {
		id = pointID.GetUuid()
	}
	return Result{ID: id, Text: text, Score: score, Metadata: metadata}
}

func (q *qdrantStore) GetEmbeddings(ctx context.Context, conditions []Condition) (map[string][]float32, error) {
	ids := make([]*qdrant.PointId, 0, len(conditions))
	for _, c := range conditions {
		ids = append(ids, pointIDFor(DocID(c.UserID, c.PaperID)))
	}
	if len(ids) == 0 {
		return map[string][]float32{}, nil
	}
	points, err := q.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: q.collection,
		Ids:            ids,
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: qdrant get: %w", err)
	}
	out := make(map[string][]float32, len(points))
	for _, p := range points {
		var docID string
		if p.Payload != nil {
			if v, ok := p.Payload[payloadIDField]; ok {
				docID = v.GetStringValue()
			}
		}
		if docID == "" {
			docID = p.Id.GetUuid()
		}
		out[docID] = p.Vectors.GetVector().GetData()
	}
	return out, nil
}

func (q *qdrantStore) BatchExists(ctx context.Context, userID int64, paperIDs []int64) (map[int64]bool, error) {
	conditions := make([]Condition, len(paperIDs))
	for i, pid := range paperIDs {
		conditions[i] = Condition{UserID: userID, PaperID: pid}
	}
	embeddings, err := q.GetEmbeddings(ctx, conditions)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]bool, len(paperIDs))
	for _, pid := range paperIDs {
		_, ok := embeddings[DocID(userID, pid)]
		out[pid] = ok
	}
	return out, nil
}

func (q *qdrantStore) Dimension() int { return q.dimension }

func (q *qdrantStore) Close() error { return q.client.Close() }
