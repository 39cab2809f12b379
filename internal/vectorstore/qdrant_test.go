package vectorstore

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragkit/internal/vectorstore/vectorstoretest"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakePoint struct {
	vector  []float32
	payload map[string]*qdrant.Value
}

type fakeCollection struct {
	size   uint64
	dist   qdrant.Distance
	points map[string]*fakePoint
}

// fakeQdrant is an in-memory qdrantClient scoring by cosine similarity.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection

	// failures makes the next n calls of an operation return Unavailable.
	failures map[string]int
	calls    map[string]int

	lastQuery   *qdrant.QueryPoints
	lastPayload *qdrant.SetPayloadPoints
	closed      bool
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{
		collections: map[string]*fakeCollection{},
		failures:    map[string]int{},
		calls:       map[string]int{},
	}
}

func (f *fakeQdrant) enter(op string) error {
	f.calls[op]++
	if f.failures[op] > 0 {
		f.failures[op]--
		return status.Error(codes.Unavailable, "qdrant restarting")
	}
	return nil
}

func (f *fakeQdrant) collection(name string) (*fakeCollection, error) {
	c, ok := f.collections[name]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "collection %s not found", name)
	}
	return c, nil
}

func (f *fakeQdrant) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("health"); err != nil {
		return nil, err
	}
	return &qdrant.HealthCheckReply{Title: "fake", Version: "1.16.0"}, nil
}

func (f *fakeQdrant) CollectionExists(_ context.Context, name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("exists"); err != nil {
		return false, err
	}
	_, ok := f.collections[name]
	return ok, nil
}

func (f *fakeQdrant) CreateCollection(_ context.Context, req *qdrant.CreateCollection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("create"); err != nil {
		return err
	}
	if _, ok := f.collections[req.GetCollectionName()]; ok {
		return status.Error(codes.AlreadyExists, "exists")
	}
	params := req.GetVectorsConfig().GetParams()
	f.collections[req.GetCollectionName()] = &fakeCollection{
		size:   params.GetSize(),
		dist:   params.GetDistance(),
		points: map[string]*fakePoint{},
	}
	return nil
}

func (f *fakeQdrant) DeleteCollection(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("delete"); err != nil {
		return err
	}
	delete(f.collections, name)
	return nil
}

func (f *fakeQdrant) ListCollections(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("list"); err != nil {
		return nil, err
	}
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeQdrant) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("upsert"); err != nil {
		return nil, err
	}
	c, err := f.collection(req.GetCollectionName())
	if err != nil {
		return nil, err
	}
	for _, p := range req.GetPoints() {
		vec := p.GetVectors().GetVector().GetDense().GetData()
		if uint64(len(vec)) != c.size {
			return nil, status.Errorf(codes.InvalidArgument, "vector size %d, want %d", len(vec), c.size)
		}
		c.points[p.GetId().GetUuid()] = &fakePoint{vector: vec, payload: p.GetPayload()}
	}
	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func (f *fakeQdrant) Get(_ context.Context, req *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("get"); err != nil {
		return nil, err
	}
	c, err := f.collection(req.GetCollectionName())
	if err != nil {
		return nil, err
	}
	var out []*qdrant.RetrievedPoint
	for _, id := range req.GetIds() {
		if p, ok := c.points[id.GetUuid()]; ok {
			out = append(out, &qdrant.RetrievedPoint{Id: id, Payload: p.payload})
		}
	}
	return out, nil
}

func (f *fakeQdrant) OverwritePayload(_ context.Context, req *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("overwrite"); err != nil {
		return nil, err
	}
	c, err := f.collection(req.GetCollectionName())
	if err != nil {
		return nil, err
	}
	f.lastPayload = req
	for _, id := range req.GetPointsSelector().GetPoints().GetIds() {
		if p, ok := c.points[id.GetUuid()]; ok {
			p.payload = req.GetPayload()
		}
	}
	return &qdrant.UpdateResult{Status: qdrant.UpdateStatus_Completed}, nil
}

func matchesFilter(payload map[string]*qdrant.Value, filter *qdrant.Filter) bool {
	for _, cond := range filter.GetMust() {
		field := cond.GetField()
		key, ok := strings.CutPrefix(field.GetKey(), payloadMetadata+".")
		if !ok {
			return false
		}
		got := payload[payloadMetadata].GetStructValue().GetFields()[key]
		if got.GetStringValue() != field.GetMatch().GetKeyword() {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func (f *fakeQdrant) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("query"); err != nil {
		return nil, err
	}
	c, err := f.collection(req.GetCollectionName())
	if err != nil {
		return nil, err
	}
	f.lastQuery = req

	vec := req.GetQuery().GetNearest().GetDense().GetData()
	var out []*qdrant.ScoredPoint
	for id, p := range c.points {
		if !matchesFilter(p.payload, req.GetFilter()) {
			continue
		}
		out = append(out, &qdrant.ScoredPoint{
			Id:      qdrant.NewIDUUID(id),
			Payload: p.payload,
			Score:   cosine(vec, p.vector),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetScore() > out[j].GetScore() })
	if limit := int(req.GetLimit()); limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQdrant) Count(_ context.Context, req *qdrant.CountPoints) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("count"); err != nil {
		return 0, err
	}
	c, err := f.collection(req.GetCollectionName())
	if err != nil {
		return 0, err
	}
	return uint64(len(c.points)), nil
}

func (f *fakeQdrant) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestQdrant(t *testing.T, cfg QdrantConfig) (*QdrantStore, *fakeQdrant, *vectorstoretest.BagEmbedder) {
	t.Helper()
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	fake := newFakeQdrant()
	embedder := vectorstoretest.NewBagEmbedder(0)
	store, err := newQdrantStore(cfg, fake, embedder, zap.NewNop())
	require.NoError(t, err)
	return store, fake, embedder
}

func TestQdrantConfig(t *testing.T) {
	cfg := QdrantConfig{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6334, cfg.Port)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, 50*1024*1024, cfg.MaxMessageSize)
	assert.Equal(t, DistanceL2, cfg.Distance)

	tests := []struct {
		name string
		cfg  QdrantConfig
	}{
		{"no host", QdrantConfig{Port: 6334}},
		{"port zero", QdrantConfig{Host: "h"}},
		{"port too large", QdrantConfig{Host: "h", Port: 70000}},
		{"bad distance", QdrantConfig{Host: "h", Port: 6334, Distance: "hamming"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestNewQdrantStore_RequiresEmbedder(t *testing.T) {
	_, err := newQdrantStore(QdrantConfig{}, newFakeQdrant(), nil, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("plain"), false},
		{status.Error(codes.Unavailable, "x"), true},
		{status.Error(codes.DeadlineExceeded, "x"), true},
		{status.Error(codes.Aborted, "x"), true},
		{status.Error(codes.ResourceExhausted, "x"), true},
		{status.Error(codes.NotFound, "x"), false},
		{status.Error(codes.InvalidArgument, "x"), false},
		{status.Error(codes.PermissionDenied, "x"), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransientError(tt.err), "%v", tt.err)
	}
}

func TestQdrantStore_CollectionLifecycle(t *testing.T) {
	ctx := context.Background()
	store, fake, _ := newTestQdrant(t, QdrantConfig{})

	_, err := store.GetCollection(ctx, "real_docs")
	assert.ErrorIs(t, err, ErrCollectionNotFound)

	col, err := store.CreateCollection(ctx, "real_docs")
	require.NoError(t, err)
	assert.Equal(t, "real_docs", col.Name())

	created := fake.collections["real_docs"]
	require.NotNil(t, created)
	assert.Equal(t, uint64(vectorstoretest.DefaultDim), created.size, "size comes from the embedder")
	assert.Equal(t, qdrant.Distance_Cosine, created.dist)

	_, err = store.CreateCollection(ctx, "real_docs")
	assert.ErrorIs(t, err, ErrCollectionExists)

	_, err = store.GetOrCreateCollection(ctx, "advanced_docs")
	require.NoError(t, err)
	_, err = store.GetOrCreateCollection(ctx, "advanced_docs")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.calls["create"])

	names, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"advanced_docs", "real_docs"}, names)

	require.NoError(t, store.DeleteCollection(ctx, "real_docs"))
	assert.ErrorIs(t, store.DeleteCollection(ctx, "real_docs"), ErrCollectionNotFound)

	_, err = store.CreateCollection(ctx, "Bad Name")
	assert.ErrorIs(t, err, ErrInvalidCollectionName)

	require.NoError(t, store.Close())
	assert.True(t, fake.closed)
}

// plainEmbedder does not report a dimension.
type plainEmbedder struct {
	dim   int
	calls int
}

func (e *plainEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
		out[i][0] = 1
	}
	return out, nil
}

func TestQdrantStore_VectorSizeProbe(t *testing.T) {
	ctx := context.Background()
	fake := newFakeQdrant()
	embedder := &plainEmbedder{dim: 12}
	store, err := newQdrantStore(QdrantConfig{}, fake, embedder, nil)
	require.NoError(t, err)

	_, err = store.CreateCollection(ctx, "first")
	require.NoError(t, err)
	_, err = store.CreateCollection(ctx, "second")
	require.NoError(t, err)

	assert.Equal(t, uint64(12), fake.collections["first"].size)
	assert.Equal(t, uint64(12), fake.collections["second"].size)
	assert.Equal(t, 1, embedder.calls, "probe runs once")
}

func TestQdrantStore_Retry(t *testing.T) {
	ctx := context.Background()

	t.Run("recovers from transient errors", func(t *testing.T) {
		store, fake, _ := newTestQdrant(t, QdrantConfig{MaxRetries: 3})
		fake.failures["exists"] = 2

		_, err := store.CreateCollection(ctx, "docs")
		require.NoError(t, err)
		assert.Equal(t, 3, fake.calls["exists"])
	})

	t.Run("gives up after max retries", func(t *testing.T) {
		store, fake, _ := newTestQdrant(t, QdrantConfig{MaxRetries: 2})
		fake.failures["list"] = 10

		_, err := store.ListCollections(ctx)
		require.Error(t, err)
		assert.True(t, IsTransientError(errors.Unwrap(errors.Unwrap(err))))
		assert.Contains(t, err.Error(), "after 2 retries")
		assert.Equal(t, 3, fake.calls["list"])
	})

	t.Run("stops on cancellation", func(t *testing.T) {
		store, fake, _ := newTestQdrant(t, QdrantConfig{RetryBackoff: time.Hour})
		fake.failures["list"] = 10

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.ListCollections(cctx)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		store, fake, _ := newTestQdrant(t, QdrantConfig{})
		col := &qdrantCollection{store: store, name: "missing"}

		_, err := col.Count(ctx)
		require.Error(t, err)
		assert.Equal(t, 1, fake.calls["count"])
	})
}

func TestQdrantCollection_AddAndGet(t *testing.T) {
	ctx := context.Background()
	store, fake, _ := newTestQdrant(t, QdrantConfig{})
	col, err := store.CreateCollection(ctx, "advanced_docs")
	require.NoError(t, err)
	seedAdvanced(t, col)

	points := fake.collections["advanced_docs"].points
	require.Len(t, points, 5)

	want := uuid.NewSHA1(pointNamespace, []byte("doc3")).String()
	p, ok := points[want]
	require.True(t, ok, "point id is derived from the document id")
	assert.Equal(t, "doc3", p.payload[payloadID].GetStringValue())
	assert.Equal(t, advancedDocs.texts[2], p.payload[payloadText].GetStringValue())
	assert.Equal(t, "environment",
		p.payload[payloadMetadata].GetStructValue().GetFields()["category"].GetStringValue())

	docs, err := col.Get(ctx, "doc4", "doc1")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, Document{ID: "doc4", Text: advancedDocs.texts[3], Metadata: advancedDocs.metas[3]}, docs[0])
	assert.Equal(t, "doc1", docs[1].ID)

	_, err = col.Get(ctx, "doc1", "nope")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	_, err = col.Get(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyID)

	empty, err := col.Get(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	count, err := col.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, count)
}

func TestQdrantCollection_AddRejects(t *testing.T) {
	ctx := context.Background()
	store, fake, embedder := newTestQdrant(t, QdrantConfig{})
	col, err := store.CreateCollection(ctx, "docs")
	require.NoError(t, err)
	require.NoError(t, col.Add(ctx, []string{"doc1"}, []string{"The sky is blue."}, nil))
	embedded := embedder.Texts()

	err = col.Add(ctx, []string{"doc2", "doc1"}, []string{"a", "b"}, nil)
	require.ErrorIs(t, err, ErrDuplicateID)
	assert.Contains(t, err.Error(), `"doc1"`)
	assert.NotContains(t, err.Error(), `"doc2"`)

	assert.ErrorIs(t, col.Add(ctx, []string{"x", "x"}, []string{"a", "b"}, nil), ErrDuplicateID)
	assert.ErrorIs(t, col.Add(ctx, []string{"x"}, []string{"a", "b"}, nil), ErrLengthMismatch)
	assert.ErrorIs(t, col.Add(ctx, nil, nil, nil), ErrEmptyDocuments)

	assert.Equal(t, embedded, embedder.Texts())
	assert.Len(t, fake.collections["docs"].points, 1)

	embedder.Err = errors.New("down")
	assert.ErrorIs(t, col.Add(ctx, []string{"y"}, []string{"a"}, nil), ErrEmbeddingFailed)
}

func TestQdrantCollection_Query(t *testing.T) {
	ctx := context.Background()

	for _, d := range []Distance{DistanceL2, DistanceCosine, DistanceIP} {
		t.Run(string(d), func(t *testing.T) {
			store, fake, _ := newTestQdrant(t, QdrantConfig{Distance: d})
			col, err := store.CreateCollection(ctx, "advanced_docs")
			require.NoError(t, err)
			seedAdvanced(t, col)

			res, err := col.Query(ctx, QueryRequest{
				Texts:    []string{"What are the recent developments in quantum physics?"},
				Where:    Where{"topic": "quantum", "category": "science"},
				NResults: 2,
			})
			require.NoError(t, err)

			matches := res.Matches(0)
			require.Len(t, matches, 2)
			assert.Equal(t, "doc4", matches[0].ID)
			assert.Equal(t, "doc1", matches[1].ID)
			assert.Less(t, matches[0].Distance, matches[1].Distance)

			filter := fake.lastQuery.GetFilter()
			require.Len(t, filter.GetMust(), 2)
			assert.Equal(t, "metadata.category", filter.GetMust()[0].GetField().GetKey())
			assert.Equal(t, "metadata.topic", filter.GetMust()[1].GetField().GetKey())
			assert.True(t, fake.lastQuery.GetParams().GetExact())
			assert.Equal(t, uint64(2), fake.lastQuery.GetLimit())

			exact, err := col.Query(ctx, QueryRequest{Texts: []string{advancedDocs.texts[1]}, NResults: 1})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc2"}, exact.IDs[0])
			assert.InDelta(t, 0, exact.Distances[0][0], 1e-5)
		})
	}
}

func TestQdrantCollection_QueryEdgeCases(t *testing.T) {
	ctx := context.Background()
	store, fake, embedder := newTestQdrant(t, QdrantConfig{})
	col, err := store.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	res, err := col.Query(ctx, QueryRequest{Texts: []string{"x"}, NResults: 3})
	require.NoError(t, err)
	assert.Empty(t, res.IDs[0])
	assert.Zero(t, embedder.Calls(), "empty collection skips embedding")

	require.NoError(t, col.Add(ctx, []string{"a", "b"}, []string{"sky blue", "quantum"}, nil))

	res, err = col.Query(ctx, QueryRequest{Texts: []string{"sky"}, NResults: 10})
	require.NoError(t, err)
	assert.Len(t, res.IDs[0], 2)
	assert.Equal(t, uint64(2), fake.lastQuery.GetLimit(), "limit capped at count")
	assert.Nil(t, fake.lastQuery.GetFilter())

	_, err = col.Query(ctx, QueryRequest{Texts: []string{"x"}})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestQdrantCollection_Update(t *testing.T) {
	ctx := context.Background()
	store, fake, embedder := newTestQdrant(t, QdrantConfig{})
	col, err := store.CreateCollection(ctx, "advanced_docs")
	require.NoError(t, err)
	seedAdvanced(t, col)
	embedded := embedder.Texts()

	require.NoError(t, col.Update(ctx, []string{"doc3"}, []map[string]string{{"topic": "climate", "category": "science"}}))
	assert.Equal(t, embedded, embedder.Texts(), "vectors are untouched")

	req := fake.lastPayload
	require.NotNil(t, req)
	ids := req.GetPointsSelector().GetPoints().GetIds()
	require.Len(t, ids, 1)
	assert.Equal(t, uuid.NewSHA1(pointNamespace, []byte("doc3")).String(), ids[0].GetUuid())

	docs, err := col.Get(ctx, "doc3")
	require.NoError(t, err)
	assert.Equal(t, advancedDocs.texts[2], docs[0].Text, "text survives the payload overwrite")
	assert.Equal(t, map[string]string{"topic": "climate", "category": "science"}, docs[0].Metadata)

	res, err := col.Query(ctx, QueryRequest{Texts: []string{"climate"}, Where: Where{"category": "science"}, NResults: 5})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"doc1", "doc3", "doc4"}, res.IDs[0])

	err = col.Update(ctx, []string{"doc1", "ghost"}, []map[string]string{{}, {}})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, 1, fake.calls["overwrite"], "nothing written when an id is missing")
}

func TestWhereFilter(t *testing.T) {
	assert.Nil(t, whereFilter(nil))
	assert.Nil(t, whereFilter(Where{}))

	f := whereFilter(Where{"b": "2", "a": "1"})
	require.Len(t, f.GetMust(), 2)
	assert.Equal(t, "metadata.a", f.GetMust()[0].GetField().GetKey())
	assert.Equal(t, "1", f.GetMust()[0].GetField().GetMatch().GetKeyword())
	assert.Equal(t, "metadata.b", f.GetMust()[1].GetField().GetKey())
}

func TestPayloadRoundTrip(t *testing.T) {
	payload, err := newPayload("doc1", "text", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, Document{ID: "doc1", Text: "text", Metadata: map[string]string{"k": "v"}}, documentFromPayload(payload))

	_, err = newPayload("doc1", "bad \xff utf8", nil)
	assert.Error(t, err)

	payload[payloadMetadata].GetStructValue().GetFields()["n"] = qdrant.NewValueInt(3)
	assert.Equal(t, map[string]string{"k": "v"}, documentFromPayload(payload).Metadata, "non-string values are skipped")
}
