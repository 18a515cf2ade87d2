// Package semantic is the sole owner of all Qdrant operations. Content types
// share one collection, partitioned by a namespace payload field so a query
// can fan out across any subset of them.
package semantic

import (
	"context"
	"fmt"
	"sort"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/pavilion-app/pavilion-search/engine/domain"
	"github.com/pavilion-app/pavilion-search/pkg/fn"
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	CreateFieldIndex(ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Store issues vector upserts, deletes, and similarity queries.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients creates a Store with injected API clients, for testing.
func NewWithClients(points pointsAPI, collections collectionsAPI, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Health verifies the store is reachable.
func (s *Store) Health(ctx context.Context) error {
	_, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: health: %w", err)
	}
	return nil
}

// EnsureCollection creates the collection and its payload indexes if absent.
// The namespace and entity_id fields are keyword-indexed because every delete
// and every search filters on them.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", s.collection, err)
	}

	for _, field := range []string{"namespace", "entity_id"} {
		_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      pb.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("semantic: index payload field %s: %w", field, err)
		}
	}
	return nil
}

// Upsert writes records. Point IDs are deterministic per (entity, sequence),
// so re-indexing overwrites rather than duplicates.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{
				PointIdOptions: &pb.PointId_Uuid{Uuid: r.ID},
			},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"namespace":   stringValue(string(r.Namespace)),
				"entity_id":   stringValue(r.EntityID),
				"sequence":    {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Sequence)}},
				"text":        stringValue(r.Text),
				"title":       stringValue(r.Attr.Title),
				"url":         stringValue(r.Attr.URL),
				"source_type": stringValue(r.Attr.SourceType),
				"indexed_at":  stringValue(r.IndexedAt.UTC().Format(time.RFC3339)),
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(records), err)
	}
	return nil
}

// DeleteByEntity removes every point for one entity in one namespace. Runs
// before re-upserting so a shrinking document leaves no stale chunks behind.
func (s *Store) DeleteByEntity(ctx context.Context, namespace domain.Collection, entityID string) error {
	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{
				Filter: &pb.Filter{
					Must: []*pb.Condition{
						fieldMatch("namespace", string(namespace)),
						fieldMatch("entity_id", entityID),
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: delete entity %s/%s: %w", namespace, entityID, err)
	}
	return nil
}

// Search fans out one similarity query per namespace, merges the hits by
// descending score, and returns at most topK. Any namespace failing fails the
// whole search.
func (s *Store) Search(ctx context.Context, embedding []float32, namespaces []domain.Collection, topK int) ([]Match, error) {
	if len(namespaces) == 0 {
		namespaces = domain.AllCollections
	}
	if topK <= 0 {
		topK = 10
	}

	queries := fn.Map(namespaces, func(ns domain.Collection) func() fn.Result[[]Match] {
		return func() fn.Result[[]Match] {
			return fn.FromPair(s.searchNamespace(ctx, embedding, ns, topK))
		}
	})
	res := fn.FanOutResult(queries...)
	perNS, err := res.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrVectorSearchUnavailable, err)
	}

	var merged []Match
	for _, matches := range perNS {
		merged = append(merged, matches...)
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Score > merged[j].Score })
	if len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

func (s *Store) searchNamespace(ctx context.Context, embedding []float32, ns domain.Collection, topK int) ([]Match, error) {
	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
		Filter: &pb.Filter{
			Must: []*pb.Condition{fieldMatch("namespace", string(ns))},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("search namespace %s: %w", ns, err)
	}

	matches := make([]Match, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		m := Match{
			ID:    r.GetId().GetUuid(),
			Score: r.GetScore(),
		}
		payload := r.GetPayload()
		m.Namespace = domain.Collection(payload["namespace"].GetStringValue())
		m.EntityID = payload["entity_id"].GetStringValue()
		m.Sequence = int(payload["sequence"].GetIntegerValue())
		m.Text = payload["text"].GetStringValue()
		m.Attr = domain.Attribution{
			Title:      payload["title"].GetStringValue(),
			URL:        payload["url"].GetStringValue(),
			SourceType: payload["source_type"].GetStringValue(),
		}
		matches[i] = m
	}
	return matches, nil
}

func stringValue(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}

func fieldMatch(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{
					MatchValue: &pb.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}
