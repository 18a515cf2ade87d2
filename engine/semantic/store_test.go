package semantic

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/pavilion-app/pavilion-search/engine/domain"
)

// --- Mocks ---

type mockPoints struct {
	mu sync.Mutex

	upsertReqs []*pb.UpsertPoints
	upsertErr  error

	deleteReqs []*pb.DeletePoints
	deleteErr  error

	searchReqs  []*pb.SearchPoints
	searchErr   error
	searchByNS  map[string]*pb.SearchResponse
	indexFields []string
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertReqs = append(m.upsertReqs, in)
	return &pb.PointsOperationResponse{}, m.upsertErr
}

func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteReqs = append(m.deleteReqs, in)
	return &pb.PointsOperationResponse{}, m.deleteErr
}

func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchReqs = append(m.searchReqs, in)
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	ns := in.GetFilter().GetMust()[0].GetField().GetMatch().GetKeyword()
	if resp, ok := m.searchByNS[ns]; ok {
		return resp, nil
	}
	return &pb.SearchResponse{}, nil
}

func (m *mockPoints) CreateFieldIndex(_ context.Context, in *pb.CreateFieldIndexCollection, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexFields = append(m.indexFields, in.GetFieldName())
	return &pb.PointsOperationResponse{}, nil
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	created   []*pb.CreateCollection
	createErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}

func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = append(m.created, in)
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

func hit(uuid string, score float32, ns, entityID, text string) *pb.ScoredPoint {
	return &pb.ScoredPoint{
		Id:    &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: uuid}},
		Score: score,
		Payload: map[string]*pb.Value{
			"namespace":   stringValue(ns),
			"entity_id":   stringValue(entityID),
			"sequence":    {Kind: &pb.Value_IntegerValue{IntegerValue: 0}},
			"text":        stringValue(text),
			"title":       stringValue("t"),
			"url":         stringValue("/x"),
			"source_type": stringValue("event"),
		},
	}
}

// --- Tests ---

func TestEnsureCollectionAlreadyExists(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "content"}},
		},
	}
	s := NewWithClients(pts, cols, "content")
	if err := s.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(cols.created) != 0 {
		t.Error("existing collection must not be recreated")
	}
}

func TestEnsureCollectionCreatesWithIndexes(t *testing.T) {
	pts := &mockPoints{}
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	s := NewWithClients(pts, cols, "content")
	if err := s.EnsureCollection(context.Background(), 1536); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if len(cols.created) != 1 {
		t.Fatalf("created %d collections", len(cols.created))
	}
	params := cols.created[0].GetVectorsConfig().GetParams()
	if params.GetSize() != 1536 || params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("vector params = %+v", params)
	}
	if len(pts.indexFields) != 2 || pts.indexFields[0] != "namespace" || pts.indexFields[1] != "entity_id" {
		t.Errorf("payload indexes = %v", pts.indexFields)
	}
}

func TestUpsertBuildsPayload(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "content")

	err := s.Upsert(context.Background(), []Record{{
		ID:        "11111111-1111-1111-1111-111111111111",
		Embedding: []float32{0.1, 0.2},
		Namespace: domain.CollectionEvents,
		EntityID:  "ev-1",
		Sequence:  2,
		Text:      "Fall Seminar.",
		Attr:      domain.Attribution{Title: "Fall Seminar", URL: "/events/ev-1", SourceType: "event"},
		IndexedAt: time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC),
	}})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if len(pts.upsertReqs) != 1 {
		t.Fatalf("upsert calls = %d", len(pts.upsertReqs))
	}
	req := pts.upsertReqs[0]
	if !req.GetWait() {
		t.Error("upsert must wait for durability")
	}
	payload := req.GetPoints()[0].GetPayload()
	if payload["namespace"].GetStringValue() != "events" {
		t.Errorf("namespace = %q", payload["namespace"].GetStringValue())
	}
	if payload["sequence"].GetIntegerValue() != 2 {
		t.Errorf("sequence = %d", payload["sequence"].GetIntegerValue())
	}
	if payload["url"].GetStringValue() != "/events/ev-1" {
		t.Errorf("url = %q", payload["url"].GetStringValue())
	}
}

func TestUpsertEmptyIsNoop(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "content")
	if err := s.Upsert(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if len(pts.upsertReqs) != 0 {
		t.Error("empty upsert must not hit the store")
	}
}

func TestDeleteByEntityFiltersNamespaceAndID(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "content")
	if err := s.DeleteByEntity(context.Background(), domain.CollectionArticles, "a-9"); err != nil {
		t.Fatalf("DeleteByEntity: %v", err)
	}

	must := pts.deleteReqs[0].GetPoints().GetFilter().GetMust()
	if len(must) != 2 {
		t.Fatalf("filter conditions = %d", len(must))
	}
	if must[0].GetField().GetMatch().GetKeyword() != "articles" ||
		must[1].GetField().GetMatch().GetKeyword() != "a-9" {
		t.Errorf("filter = %v", must)
	}
}

func TestSearchMergesNamespacesByScore(t *testing.T) {
	pts := &mockPoints{searchByNS: map[string]*pb.SearchResponse{
		"events": {Result: []*pb.ScoredPoint{
			hit("1", 0.91, "events", "ev-1", "seminar"),
			hit("2", 0.40, "events", "ev-2", "assembly"),
		}},
		"articles": {Result: []*pb.ScoredPoint{
			hit("3", 0.75, "articles", "a-1", "pruning"),
		}},
	}}
	s := NewWithClients(pts, &mockCollections{}, "content")

	matches, err := s.Search(context.Background(), []float32{0.5},
		[]domain.Collection{domain.CollectionEvents, domain.CollectionArticles}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches", len(matches))
	}
	if matches[0].Score != 0.91 || matches[1].Score != 0.75 {
		t.Errorf("scores = %v, %v", matches[0].Score, matches[1].Score)
	}
	if matches[1].Namespace != domain.CollectionArticles {
		t.Errorf("namespace = %q", matches[1].Namespace)
	}
}

func TestSearchFailurePropagatesAsUnavailable(t *testing.T) {
	pts := &mockPoints{searchErr: errors.New("connection reset")}
	s := NewWithClients(pts, &mockCollections{}, "content")

	_, err := s.Search(context.Background(), []float32{0.5}, nil, 5)
	if !errors.Is(err, domain.ErrVectorSearchUnavailable) {
		t.Errorf("err = %v", err)
	}
}

func TestSearchDefaultsToAllNamespaces(t *testing.T) {
	pts := &mockPoints{}
	s := NewWithClients(pts, &mockCollections{}, "content")

	if _, err := s.Search(context.Background(), []float32{0.5}, nil, 5); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(pts.searchReqs) != len(domain.AllCollections) {
		t.Errorf("search fan-out = %d requests", len(pts.searchReqs))
	}
}
