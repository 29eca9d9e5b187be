package storage

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"github.com/pgvector/pgvector-go"
	openai "github.com/sashabaranov/go-openai"

	"screenTimeline/config"
	"screenTimeline/core"
)

// VectorStore indexes timeline segments for semantic search. Upsert and
// Search are best-effort: a backend failure degrades search, it never fails
// a session.
type VectorStore interface {
	Upsert(ctx context.Context, sessionID string, segments []core.TimelineSegment) int
	Search(ctx context.Context, sessionID, query string, topK int) []core.Hit
	Delete(ctx context.Context, sessionID string)
}

// NewVectorStore selects the backend from config, falling back to the
// in-memory index when an external backend cannot be reached.
func NewVectorStore(cfg *config.Config) VectorStore {
	switch strings.ToLower(strings.TrimSpace(cfg.VectorStore)) {
	case "milvus":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			log.Println("milvus store needs API access for embeddings, falling back to memory index")
			return NewMemoryVectorStore()
		}
		s, err := newMilvusVectorStore(cfg)
		if err != nil {
			log.Printf("milvus init failed (%v), falling back to memory index", err)
			return NewMemoryVectorStore()
		}
		return s
	case "pgvector":
		if !cfg.HasValidAPI() {
			config.PrintConfigInstructions()
			log.Println("pgvector store needs API access for embeddings, falling back to memory index")
			return NewMemoryVectorStore()
		}
		s, err := newPgVectorStore(cfg)
		if err != nil {
			log.Printf("pgvector init failed (%v), falling back to memory index", err)
			return NewMemoryVectorStore()
		}
		return s
	default:
		return NewMemoryVectorStore()
	}
}

// ---------------- Memory implementation ----------------

type memoryDoc struct {
	start, end float64
	text       string
	summary    string
	framePath  string
	embed      map[string]float64
}

type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs map[string][]memoryDoc
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{docs: map[string][]memoryDoc{}}
}

func (s *MemoryVectorStore) Upsert(_ context.Context, sessionID string, segments []core.TimelineSegment) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	docs := make([]memoryDoc, 0, len(segments))
	for _, seg := range segments {
		docs = append(docs, memoryDoc{
			start:     seg.Start,
			end:       seg.End,
			text:      seg.Transcript,
			summary:   seg.Summary,
			framePath: seg.ScreenshotPath,
			embed:     embedText(strings.ToLower(seg.Transcript + " " + seg.Summary)),
		})
	}
	s.docs[sessionID] = docs
	return len(docs)
}

func (s *MemoryVectorStore) Search(_ context.Context, sessionID, query string, topK int) []core.Hit {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := s.docs[sessionID]
	qv := embedText(strings.ToLower(query))
	type scored struct {
		i     int
		score float64
	}
	scores := make([]scored, 0, len(docs))
	for i, d := range docs {
		scores = append(scores, scored{i, cosine(qv, d.embed)})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if topK <= 0 || topK > len(scores) {
		topK = len(scores)
		if topK > 5 {
			topK = 5
		}
	}
	hits := make([]core.Hit, 0, topK)
	for _, sc := range scores[:topK] {
		d := docs[sc.i]
		hits = append(hits, core.Hit{Score: sc.score, Start: d.start, End: d.end, Text: d.text, Summary: d.summary, FramePath: d.framePath})
	}
	return hits
}

func (s *MemoryVectorStore) Delete(_ context.Context, sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, sessionID)
}

func embedText(text string) map[string]float64 {
	m := map[string]float64{}
	for _, t := range core.Tokenize(text) {
		m[t]++
	}
	var sum float64
	for _, v := range m {
		sum += v * v
	}
	if sum == 0 {
		return m
	}
	norm := math.Sqrt(sum)
	for k, v := range m {
		m[k] = v / norm
	}
	return m
}

func cosine(a, b map[string]float64) float64 {
	var dot float64
	for k, va := range a {
		if vb, ok := b[k]; ok {
			dot += va * vb
		}
	}
	return dot
}

// ---------------- PgVector implementation ----------------

type PgVectorStore struct {
	conn *pgx.Conn
	oa   *openai.Client
	cfg  *config.Config
}

func newPgVectorStore(cfg *config.Config) (*PgVectorStore, error) {
	ctx := context.Background()
	conn, err := pgx.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &PgVectorStore{conn: conn, oa: openaiClient(cfg), cfg: cfg}
	if err := s.ensureTable(ctx); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context) error {
	if _, err := s.conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector;"); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}
	schema := `
		CREATE TABLE IF NOT EXISTS screen_segments (
			id SERIAL PRIMARY KEY,
			session_id VARCHAR(255) NOT NULL,
			segment_id INT NOT NULL,
			start_time FLOAT NOT NULL,
			end_time FLOAT NOT NULL,
			transcript TEXT NOT NULL,
			summary TEXT,
			frame_path VARCHAR(1024),
			embedding vector(1536),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(session_id, segment_id)
		);
	`
	if _, err := s.conn.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create screen_segments table: %w", err)
	}
	if _, err := s.conn.Exec(ctx,
		"CREATE INDEX IF NOT EXISTS idx_screen_segments_session ON screen_segments(session_id);"); err != nil {
		log.Printf("warning: session index creation failed: %v", err)
	}
	if _, err := s.conn.Exec(ctx, `
		CREATE INDEX IF NOT EXISTS idx_screen_segments_embedding
		ON screen_segments USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
	`); err != nil {
		log.Printf("warning: vector index creation failed: %v", err)
	}
	return nil
}

func (s *PgVectorStore) Upsert(ctx context.Context, sessionID string, segments []core.TimelineSegment) int {
	count := 0
	for _, seg := range segments {
		vec, err := embedRemote(ctx, s.oa, s.cfg, seg.Transcript+" "+seg.Summary)
		if err != nil {
			continue
		}
		_, err = s.conn.Exec(ctx, `
			INSERT INTO screen_segments (session_id, segment_id, start_time, end_time, transcript, summary, frame_path, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (session_id, segment_id)
			DO UPDATE SET
				start_time = EXCLUDED.start_time,
				end_time = EXCLUDED.end_time,
				transcript = EXCLUDED.transcript,
				summary = EXCLUDED.summary,
				frame_path = EXCLUDED.frame_path,
				embedding = EXCLUDED.embedding
		`, sessionID, seg.ID, seg.Start, seg.End, seg.Transcript, seg.Summary, seg.ScreenshotPath, pgvector.NewVector(vec))
		if err != nil {
			continue
		}
		count++
	}
	return count
}

func (s *PgVectorStore) Search(ctx context.Context, sessionID, query string, topK int) []core.Hit {
	if topK <= 0 {
		topK = 5
	}
	vec, err := embedRemote(ctx, s.oa, s.cfg, query)
	if err != nil {
		return nil
	}
	rows, err := s.conn.Query(ctx, `
		SELECT start_time, end_time, transcript, summary, frame_path,
		       1 - (embedding <=> $1) as similarity
		FROM screen_segments
		WHERE session_id = $2
		ORDER BY embedding <=> $1
		LIMIT $3
	`, pgvector.NewVector(vec), sessionID, topK)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var hits []core.Hit
	for rows.Next() {
		var start, end, similarity float64
		var transcript, summary, framePath string
		if err := rows.Scan(&start, &end, &transcript, &summary, &framePath, &similarity); err != nil {
			continue
		}
		hits = append(hits, core.Hit{Score: similarity, Start: start, End: end, Text: transcript, Summary: summary, FramePath: framePath})
	}
	return hits
}

func (s *PgVectorStore) Delete(ctx context.Context, sessionID string) {
	if _, err := s.conn.Exec(ctx,
		"DELETE FROM screen_segments WHERE session_id = $1", sessionID); err != nil {
		log.Printf("warning: pgvector cleanup for %s failed: %v", sessionID, err)
	}
}

// ---------------- Milvus implementation ----------------

type MilvusVectorStore struct {
	mc   client.Client
	coll string
	dim  int
	oa   *openai.Client
	cfg  *config.Config
}

func newMilvusVectorStore(cfg *config.Config) (*MilvusVectorStore, error) {
	addr := os.Getenv("MILVUS_ADDR")
	if addr == "" {
		addr = "localhost:19530"
	}
	coll := os.Getenv("MILVUS_COLLECTION")
	if coll == "" {
		coll = "screen_segments"
	}
	mc, err := client.NewClient(context.Background(), client.Config{
		Address:  addr,
		Username: os.Getenv("MILVUS_USERNAME"),
		Password: os.Getenv("MILVUS_PASSWORD"),
		APIKey:   os.Getenv("MILVUS_API_KEY"),
	})
	if err != nil {
		return nil, fmt.Errorf("connect milvus: %w", err)
	}
	s := &MilvusVectorStore{mc: mc, coll: coll, dim: 1536, oa: openaiClient(cfg), cfg: cfg}
	if err := s.ensureSchemaAndIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MilvusVectorStore) ensureSchemaAndIndex() error {
	ctx := context.Background()
	has, err := s.mc.HasCollection(ctx, s.coll)
	if err != nil {
		return err
	}
	if !has {
		schema := entity.NewSchema()
		schema.WithField(entity.NewField().WithName("id").WithIsAutoID(true).WithIsPrimaryKey(true).WithDataType(entity.FieldTypeInt64))
		schema.WithField(entity.NewField().WithName("session_id").WithDataType(entity.FieldTypeVarChar).WithMaxLength(128))
		schema.WithField(entity.NewField().WithName("start").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("end").WithDataType(entity.FieldTypeDouble))
		schema.WithField(entity.NewField().WithName("transcript").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("summary").WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096))
		schema.WithField(entity.NewField().WithName("frame_path").WithDataType(entity.FieldTypeVarChar).WithMaxLength(1024))
		schema.WithField(entity.NewField().WithName("vector").WithDataType(entity.FieldTypeFloatVector).WithDim(int64(s.dim)))
		if err := s.mc.CreateCollection(ctx, schema, int32(2)); err != nil {
			return fmt.Errorf("create collection: %w", err)
		}
	}
	idx, err := entity.NewIndexHNSW(entity.COSINE, 8, 200)
	if err != nil {
		return fmt.Errorf("new hnsw index: %w", err)
	}
	if err := s.mc.CreateIndex(ctx, s.coll, "vector", idx, false, client.WithIndexName("idx_vector")); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.mc.LoadCollection(ctx, s.coll, false); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}
	return nil
}

func (s *MilvusVectorStore) Upsert(ctx context.Context, sessionID string, segments []core.TimelineSegment) int {
	if len(segments) == 0 {
		return 0
	}
	sessionIDs := make([]string, 0, len(segments))
	starts := make([]float64, 0, len(segments))
	ends := make([]float64, 0, len(segments))
	transcripts := make([]string, 0, len(segments))
	summaries := make([]string, 0, len(segments))
	frames := make([]string, 0, len(segments))
	vectors := make([][]float32, 0, len(segments))
	for _, seg := range segments {
		v, err := embedRemote(ctx, s.oa, s.cfg, seg.Transcript+" "+seg.Summary)
		if err != nil {
			continue
		}
		sessionIDs = append(sessionIDs, sessionID)
		starts = append(starts, seg.Start)
		ends = append(ends, seg.End)
		transcripts = append(transcripts, seg.Transcript)
		summaries = append(summaries, seg.Summary)
		frames = append(frames, seg.ScreenshotPath)
		vectors = append(vectors, v)
	}
	if len(vectors) == 0 {
		return 0
	}
	_, err := s.mc.Insert(ctx, s.coll, "",
		entity.NewColumnVarChar("session_id", sessionIDs),
		entity.NewColumnDouble("start", starts),
		entity.NewColumnDouble("end", ends),
		entity.NewColumnVarChar("transcript", transcripts),
		entity.NewColumnVarChar("summary", summaries),
		entity.NewColumnVarChar("frame_path", frames),
		entity.NewColumnFloatVector("vector", s.dim, vectors),
	)
	if err != nil {
		return 0
	}
	return len(vectors)
}

func (s *MilvusVectorStore) Search(ctx context.Context, sessionID, query string, topK int) []core.Hit {
	if topK <= 0 {
		topK = 5
	}
	v, err := embedRemote(ctx, s.oa, s.cfg, query)
	if err != nil {
		return nil
	}
	sp, _ := entity.NewIndexHNSWSearchParam(74)
	filter := fmt.Sprintf("session_id == %q", sessionID)
	res, err := s.mc.Search(ctx, s.coll, []string{}, filter,
		[]string{"start", "end", "transcript", "summary", "frame_path"},
		[]entity.Vector{entity.FloatVector(v)}, "vector", entity.COSINE, topK, sp)
	if err != nil {
		return nil
	}
	var hits []core.Hit
	for _, r := range res {
		cols := map[string]entity.Column{}
		for _, c := range r.Fields {
			cols[c.Name()] = c
		}
		for i := 0; i < r.ResultCount; i++ {
			hit := core.Hit{Score: float64(r.Scores[i])}
			if c, ok := cols["start"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				hit.Start = c.Data()[i]
			}
			if c, ok := cols["end"].(*entity.ColumnDouble); ok && i < len(c.Data()) {
				hit.End = c.Data()[i]
			}
			if c, ok := cols["transcript"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				hit.Text = c.Data()[i]
			}
			if c, ok := cols["summary"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				hit.Summary = c.Data()[i]
			}
			if c, ok := cols["frame_path"].(*entity.ColumnVarChar); ok && i < len(c.Data()) {
				hit.FramePath = c.Data()[i]
			}
			hits = append(hits, hit)
		}
	}
	return hits
}

func (s *MilvusVectorStore) Delete(ctx context.Context, sessionID string) {
	expr := fmt.Sprintf("session_id == %q", sessionID)
	if err := s.mc.Delete(ctx, s.coll, "", expr); err != nil {
		log.Printf("warning: milvus cleanup for %s failed: %v", sessionID, err)
	}
}

// ---------------- Shared helpers ----------------

func openaiClient(cfg *config.Config) *openai.Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

func embedRemote(ctx context.Context, cli *openai.Client, cfg *config.Config, text string) ([]float32, error) {
	resp, err := cli.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(cfg.EmbeddingModel),
		Input: []string{strings.ToLower(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return resp.Data[0].Embedding, nil
}

// SynthesizeAnswer turns search hits into a short answer. With API access
// it asks the chat model grounded on the hit snippets; otherwise it falls
// back to listing time ranges and summaries.
func SynthesizeAnswer(ctx context.Context, cfg *config.Config, question string, hits []core.Hit) string {
	if len(hits) == 0 {
		return "No matching segments found."
	}
	if !cfg.HasValidAPI() {
		return synthesizeSimple(hits)
	}
	parts := make([]string, 0, len(hits))
	for i, h := range hits {
		parts = append(parts, fmt.Sprintf("Segment %d [%s]: %s\nSummary: %s",
			i+1, core.FormatClock(h.Start), h.Text, h.Summary))
	}
	prompt := fmt.Sprintf(`You answer questions about a recorded screen session.
Base your answer only on the retrieved segments below and cite the relevant
timestamps. If the segments do not cover the question, say so.

Retrieved segments:
%s

Question: %s`, strings.Join(parts, "\n\n"), question)

	cli := openaiClient(cfg)
	resp, err := cli.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: cfg.ChatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil || len(resp.Choices) == 0 {
		log.Printf("answer synthesis via chat model failed, using simple fallback: %v", err)
		return synthesizeSimple(hits)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content)
}

func synthesizeSimple(hits []core.Hit) string {
	times := make([]string, 0, len(hits))
	snips := make([]string, 0, len(hits))
	for _, h := range hits {
		times = append(times, core.FormatClock(h.Start))
		if h.Summary != "" {
			snips = append(snips, h.Summary)
		}
	}
	out := "Relevant segments at: " + strings.Join(times, ", ") + "."
	if len(snips) > 0 {
		out += " Key points: " + strings.Join(snips, " ")
	}
	return out
}
