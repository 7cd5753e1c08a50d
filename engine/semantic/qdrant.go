package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/lawgpt/lawgpt/engine/domain"
)

const metaPrefix = "meta."

// pointsAPI and collectionsAPI are the parts of the generated Qdrant clients
// the store calls.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Get(ctx context.Context, in *pb.GetPoints, opts ...grpc.CallOption) (*pb.GetResponse, error)
}

type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeleteCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Qdrant is an Index over a Qdrant collection with cosine distance.
// Equal scores come back in the order Qdrant returns them.
type Qdrant struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	dim         int
	logger      *slog.Logger
}

// NewQdrant dials Qdrant's gRPC port. The collection is not created until
// EnsureCollection is called.
func NewQdrant(addr, collection string, dim int, logger *slog.Logger) (*Qdrant, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	q := NewQdrantWithClients(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), collection, dim, logger)
	q.conn = conn
	return q, nil
}

// NewQdrantWithClients builds a store over pre-made clients.
func NewQdrantWithClients(points pointsAPI, collections collectionsAPI, collection string, dim int, logger *slog.Logger) *Qdrant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Qdrant{
		points:      points,
		collections: collections,
		collection:  collection,
		dim:         dim,
		logger:      logger,
	}
}

func (q *Qdrant) Dimension() int { return q.dim }

// Close closes the gRPC connection when the store owns one.
func (q *Qdrant) Close() error {
	if q.conn == nil {
		return nil
	}
	return q.conn.Close()
}

// EnsureCollection creates the collection if it doesn't exist.
func (q *Qdrant) EnsureCollection(ctx context.Context) error {
	list, err := q.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == q.collection {
			return nil
		}
	}

	_, err = q.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(q.dim),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", q.collection, err)
	}
	q.logger.Info("semantic: created qdrant collection", "collection", q.collection, "dim", q.dim)
	return nil
}

// DeleteCollection drops the whole collection.
func (q *Qdrant) DeleteCollection(ctx context.Context) error {
	if _, err := q.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: q.collection}); err != nil {
		return fmt.Errorf("semantic: delete collection %s: %w", q.collection, err)
	}
	return nil
}

// PointID maps a chunk id onto the UUID Qdrant requires.
func PointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (q *Qdrant) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := validateRecords(records, q.dim); err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: r.Embedding}},
			},
			Payload: payloadOf(r),
		}
	}

	wait := true
	_, err := q.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

func (q *Qdrant) Search(ctx context.Context, query []float32, topK int) ([]Hit, error) {
	if topK <= 0 {
		return []Hit{}, nil
	}
	if err := domain.CheckDimension(query, q.dim); err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	resp, err := q.points.Search(ctx, &pb.SearchPoints{
		CollectionName: q.collection,
		Vector:         query,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("semantic: search: %w", err)
	}

	hits := make([]Hit, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		hits = append(hits, Hit{Record: recordOf(p.GetPayload()), Score: float64(p.GetScore())})
	}
	return hits, nil
}

func (q *Qdrant) Get(ctx context.Context, id string) (Record, bool, error) {
	resp, err := q.points.Get(ctx, &pb.GetPoints{
		CollectionName: q.collection,
		Ids:            []*pb.PointId{{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(id)}}},
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true}},
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("semantic: get %s: %w", id, err)
	}
	if len(resp.GetResult()) == 0 {
		return Record{}, false, nil
	}
	p := resp.GetResult()[0]
	r := recordOf(p.GetPayload())
	r.Embedding = p.GetVectors().GetVector().GetData()
	return r, true, nil
}

// DeleteDocument removes all points whose doc_id matches. Used for re-ingestion.
func (q *Qdrant) DeleteDocument(ctx context.Context, docID string) error {
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{Must: []*pb.Condition{fieldMatch("doc_id", docID)}},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete by doc_id %s: %w", docID, err)
	}
	return nil
}

func payloadOf(r Record) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"chunk_id": strValue(r.ID),
		"doc_id":   strValue(r.DocumentID),
		"content":  strValue(r.Text),
		"offset":   intValue(int64(r.Offset)),
	}
	if r.Page != nil {
		payload["page"] = intValue(int64(*r.Page))
	}
	for k, v := range r.Metadata {
		payload[metaPrefix+k] = strValue(v)
	}
	return payload
}

func recordOf(payload map[string]*pb.Value) Record {
	var r Record
	for k, v := range payload {
		switch k {
		case "chunk_id":
			r.ID = v.GetStringValue()
		case "doc_id":
			r.DocumentID = v.GetStringValue()
		case "content":
			r.Text = v.GetStringValue()
		case "offset":
			r.Offset = int(v.GetIntegerValue())
		case "page":
			page := int(v.GetIntegerValue())
			r.Page = &page
		default:
			if name, ok := strings.CutPrefix(k, metaPrefix); ok {
				if r.Metadata == nil {
					r.Metadata = make(map[string]string)
				}
				r.Metadata[name] = v.GetStringValue()
			}
		}
	}
	return r
}

// ReplaceDocument upserts records first and only then deletes the
// document's points that records does not carry, so a failed upsert leaves
// the old chunks in place.
func (q *Qdrant) ReplaceDocument(ctx context.Context, docID string, records []Record) error {
	if err := q.Upsert(ctx, records); err != nil {
		return err
	}
	filter := &pb.Filter{Must: []*pb.Condition{fieldMatch("doc_id", docID)}}
	if len(records) > 0 {
		ids := make([]*pb.PointId, len(records))
		for i, r := range records {
			ids[i] = &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(r.ID)}}
		}
		filter.MustNot = []*pb.Condition{{ConditionOneOf: &pb.Condition_HasId{HasId: &pb.HasIdCondition{HasId: ids}}}}
	}
	wait := true
	_, err := q.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         &pb.PointsSelector{PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter}},
	})
	if err != nil {
		return fmt.Errorf("semantic: replace document %s: %w", docID, err)
	}
	return nil
}

func strValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func intValue(n int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: n}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}
