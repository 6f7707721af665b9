// cogrouterd is the demo entrypoint: it loads config, runs a one-shot
// indexing pass over the working directory, wires every component the
// scheduler depends on, and serves the routing endpoint over HTTP.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	kafka "github.com/segmentio/kafka-go"

	"cogrouter/internal/brains"
	"cogrouter/internal/config"
	"cogrouter/internal/depgraph"
	"cogrouter/internal/indexing/cache"
	"cogrouter/internal/indexing/hashtrack"
	"cogrouter/internal/indexing/watch"
	"cogrouter/internal/logging"
	"cogrouter/internal/memory"
	"cogrouter/internal/persistence/databases"
	"cogrouter/internal/rag/chunker"
	"cogrouter/internal/rag/ingest"
	"cogrouter/internal/retrieval"
	"cogrouter/internal/scheduler"
	"cogrouter/internal/simgraph"
	"cogrouter/internal/specialists"
	"cogrouter/internal/store"
	"cogrouter/internal/supervisor"
	"cogrouter/internal/timeline"
	"cogrouter/internal/tokenbudget"
	"cogrouter/internal/tools"
	"cogrouter/internal/tools/cli"
	"cogrouter/internal/tools/db"
	"cogrouter/internal/tools/demo"
	"cogrouter/internal/tools/fs"
	"cogrouter/internal/tools/multitool"
	ragtool "cogrouter/internal/tools/rag"
	"cogrouter/internal/tools/utility"
	"cogrouter/internal/tools/web"
	"cogrouter/internal/vectorindex"
)

func main() {
	if err := godotenv.Load(".env"); err != nil {
		_ = godotenv.Load("example.env")
	}

	cfg, err := config.LoadConfig("cogrouter.yaml")
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to load config")
	}
	if cfg.Workdir == "" {
		cfg.Workdir, _ = os.Getwd()
	}

	ctx := context.Background()
	httpClient := &http.Client{Timeout: 60 * time.Second}

	timeline.SetTracerName(cfg.OTel.ServiceName)

	embedder := store.NewHashEmbedder(cfg.Embedding.Dimensions)

	summaryIndex := store.NewVectorIndex(databases.NewMemoryVector())
	chunkIndex := store.NewVectorIndex(databases.NewMemoryVector())
	brainIndex := store.NewVectorIndex(databases.NewMemoryVector())

	tracker := hashtrack.New()
	files, graph, knownFiles, knownIdentifiers := indexWorkdir(ctx, *cfg, embedder, summaryIndex, chunkIndex, tracker)
	logging.Log.WithField("files", len(files)).Info("indexed working directory")

	simGraph := simgraph.New()
	seedNodes := make([]simgraph.Node, 0, len(files))
	for _, f := range files {
		seedNodes = append(seedNodes, simgraph.Node{ID: f.Path, Content: f.Content, Type: simgraph.NodeFileSummary})
	}
	simGraph.Update(seedNodes)

	dbManager, err := databases.NewManager(ctx, databases.StoreConfig{}, databases.StoreConfig{}, databases.StoreConfig{}, "")
	if err != nil {
		logging.Log.WithError(err).Fatal("failed to init database manager")
	}

	toolsReg := tools.NewRegistry()
	toolsReg.Register(fs.NewReadTool(cfg.Workdir))
	toolsReg.Register(fs.NewGrepLogsTool(cfg.Workdir))
	toolsReg.Register(demo.WeatherTool{})
	toolsReg.Register(demo.DateTimeTool{})
	toolsReg.Register(demo.CalendarTool{})
	toolsReg.Register(cli.NewTool(cli.NewExecutor(cfg.Exec, cfg.Workdir)))
	toolsReg.Register(web.NewFetchTool(dbManager.Search))
	toolsReg.Register(utility.NewTextboxTool())
	toolsReg.Register(db.NewSearchIndexTool(dbManager.Search))
	toolsReg.Register(db.NewSearchQueryTool(dbManager.Search))
	toolsReg.Register(db.NewVectorQueryTool(dbManager.Vector))
	toolsReg.Register(db.NewGraphNeighborsTool(dbManager.Graph))
	toolsReg.Register(ragtool.NewIngestTool(dbManager))
	toolsReg.Register(ragtool.NewRetrieveTool(dbManager))
	toolsReg.Register(multitool.NewParallel(toolsReg))

	recordingReg := tools.NewRecordingRegistry(toolsReg, func(ev tools.DispatchEvent) {
		logging.Log.WithField("tool", ev.Name).Debug("tool dispatched")
	})

	specialistReg := specialists.NewRegistry(cfg.LLMClient, cfg.Specialists, httpClient, recordingReg)
	specialistReg.SetWorkdir(cfg.Workdir)

	brainReg := brains.New(specialistReg, recordingReg, brainIndex, embedder)
	for _, sc := range cfg.Specialists {
		brainReg.SetOrder(sc.Name, sc.Order)
	}
	if err := brainReg.IndexAll(ctx); err != nil {
		logging.Log.WithError(err).Warn("failed to index specialists/tools")
	}

	retriever := &retrieval.Retriever{
		Summaries:        summaryIndex,
		Chunks:           chunkIndex,
		Embedder:         embedder,
		Graph:            graph,
		DefaultBudget:    cfg.Context.MaxTokens - cfg.Context.ReservedTokens,
		KnownFiles:       knownFiles,
		KnownIdentifiers: knownIdentifiers,
	}

	var recorder timeline.Recorder = timeline.NewMemoryRecorder()
	if cfg.OTel.ClickHouse.DSN != "" {
		chRecorder, err := timeline.NewClickHouseRecorder(ctx, cfg.OTel.ClickHouse)
		if err != nil {
			logging.Log.WithError(err).Warn("clickhouse recorder disabled")
		} else {
			recorder = timeline.MultiRecorder{recorder, chRecorder}
		}
	}

	conversations := memory.NewConversationStore()

	sched := scheduler.New(
		*cfg,
		brainReg,
		retriever,
		supervisor.New(),
		tokenbudget.NewMemoryStore(int64(cfg.Token.DefaultMonthlyQuota), 30*24*time.Hour),
		memory.NewWorkingStore(),
		conversations,
		recorder,
		recordingReg,
		httpClient,
	)

	go evictIdleConversationsPeriodically(ctx, conversations)

	startFileWatcher(ctx, *cfg, tracker, simGraph, embedder, summaryIndex, chunkIndex, knownFiles, knownIdentifiers)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/route", routeHandler(sched))

	addr := ":8088"
	logging.Log.WithField("addr", addr).Info("cogrouterd listening")
	if err := http.ListenAndServe(addr, mux); err != nil {
		logging.Log.WithError(err).Fatal("server exited")
	}
}

type routeRequest struct {
	Provider       string `json:"provider"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	UserID         string `json:"user_id,omitempty"`
}

func routeHandler(sched *scheduler.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req routeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
		if req.Provider == "" {
			req.Provider = "default"
		}

		resp, err := sched.Handle(r.Context(), scheduler.Request{
			Provider:       req.Provider,
			Message:        req.Message,
			ConversationID: req.ConversationID,
			UserID:         req.UserID,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// indexWorkdir walks root for source-like files and builds the dependency
// graph plus the summary/chunk vector indexes a fresh process needs before
// it can answer its first request. There is no teacher orchestrator that
// ties chunking, embedding, and indexing together end to end, so this glues
// the three primitives together directly for the one-shot demo case. The
// embedding cache (component B) and hash tracker (component C) let a
// restart skip re-embedding when the corpus hasn't changed since the last
// run.
func indexWorkdir(ctx context.Context, cfg config.Config, embedder vectorindex.Embedder, summaries, chunks vectorindex.Index, tracker *hashtrack.Tracker) ([]depgraph.SourceFile, *depgraph.Graph, map[string]struct{}, map[string]struct{}) {
	root := cfg.Workdir
	var files []depgraph.SourceFile
	contents := make(map[string][]byte)
	knownFiles := make(map[string]struct{})
	knownIdentifiers := make(map[string]struct{})

	_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if strings.Contains(path, string(filepath.Separator)+".git"+string(filepath.Separator)) {
			return nil
		}
		switch filepath.Ext(path) {
		case ".go", ".md", ".yaml", ".yml":
		default:
			return nil
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		files = append(files, depgraph.SourceFile{Path: rel, Content: string(content)})
		contents[rel] = content
		knownFiles[rel] = struct{}{}
		for _, ident := range extractIdentifiers(string(content)) {
			knownIdentifiers[ident] = struct{}{}
		}
		return nil
	})

	graph := depgraph.Build(files, "cogrouter")

	cacheStore, err := cache.NewStoreFromConfig(ctx, cfg.Embedding)
	if err != nil {
		logging.Log.WithError(err).Warn("embedding cache unavailable, indexing without it")
		cacheStore = nil
	}
	corpusHash := hashtrack.CorpusHash(contents)
	cacheValid := false
	if cacheStore != nil {
		if marker, valid, markerErr := cacheStore.ReadMarker(ctx); markerErr == nil && valid && marker.Hash == corpusHash {
			cacheValid = true
		}
	}

	// A valid cache means this exact corpus (by content hash) was already
	// embedded on a prior run: load the persisted vectors straight into the
	// indexes instead of recomputing them, satisfying the zero-re-indexing
	// invariant for an unchanged corpus.
	if cacheValid {
		records, err := cacheStore.ReadRecords(ctx)
		if err == nil && len(records) > 0 {
			logging.Log.WithField("records", len(records)).Info("embedding cache hit, loading persisted vectors")
			for _, rec := range records {
				doc := vectorindex.Doc{ID: rec.ID, Text: rec.Text, Vector: rec.Embedding, Metadata: rec.Metadata}
				if strings.HasPrefix(rec.ID, "chunk:") {
					_ = chunks.Add(ctx, []vectorindex.Doc{doc})
				} else {
					_ = summaries.Add(ctx, []vectorindex.Doc{doc})
				}
			}
			for _, f := range files {
				tracker.Record(f.Path, contents[f.Path], time.Now())
			}
			return files, graph, knownFiles, knownIdentifiers
		}
		logging.Log.Warn("embedding cache marker valid but records unreadable, re-indexing corpus")
	} else {
		logging.Log.Info("embedding cache miss, re-indexing corpus")
	}

	var records []cache.Record
	for _, f := range files {
		records = append(records, embedFile(ctx, embedder, summaries, chunks, f)...)
		tracker.Record(f.Path, contents[f.Path], time.Now())
	}

	if cacheStore != nil {
		if err := cacheStore.WriteRecords(ctx, records); err != nil {
			logging.Log.WithError(err).Warn("failed to persist embedding cache records")
		}
		if err := cacheStore.WriteMarker(ctx, cache.Marker{Hash: corpusHash, Status: "valid"}); err != nil {
			logging.Log.WithError(err).Warn("failed to persist embedding cache marker")
		}
	}

	return files, graph, knownFiles, knownIdentifiers
}

// embedFile embeds one file's summary and chunks into summaries/chunks,
// returning the persisted cache records so a caller can batch them into
// the embedding cache. Shared by indexWorkdir's initial bootstrap pass and
// the file watcher's per-change handler.
func embedFile(ctx context.Context, embedder vectorindex.Embedder, summaries, chunks vectorindex.Index, f depgraph.SourceFile) []cache.Record {
	var records []cache.Record

	summaryVec, err := embedder.Embed(ctx, summarize(f.Content))
	if err == nil {
		summaryDoc := vectorindex.Doc{
			ID:       "summary:" + f.Path,
			Text:     summarize(f.Content),
			Vector:   summaryVec,
			Metadata: map[string]string{"file": f.Path},
		}
		_ = summaries.Add(ctx, []vectorindex.Doc{summaryDoc})
		records = append(records, cache.Record{ID: summaryDoc.ID, Text: summaryDoc.Text, Embedding: summaryDoc.Vector, Metadata: summaryDoc.Metadata})
	}

	strategy := "fixed"
	if filepath.Ext(f.Path) == ".md" {
		strategy = "markdown"
	} else if filepath.Ext(f.Path) == ".go" {
		strategy = "code"
	}
	simple := chunker.SimpleChunker{}
	parts, err := simple.Chunk(f.Content, ingest.ChunkingOptions{Strategy: strategy, MaxTokens: 200, Overlap: 20})
	if err != nil {
		return records
	}
	for _, part := range parts {
		vec, embedErr := embedder.Embed(ctx, part.Text)
		if embedErr != nil {
			continue
		}
		chunkDoc := vectorindex.Doc{
			ID:       fmt.Sprintf("chunk:%s:%d", f.Path, part.Index),
			Text:     part.Text,
			Vector:   vec,
			Metadata: map[string]string{"file": f.Path},
		}
		_ = chunks.Add(ctx, []vectorindex.Doc{chunkDoc})
		records = append(records, cache.Record{ID: chunkDoc.ID, Text: chunkDoc.Text, Embedding: chunkDoc.Vector, Metadata: chunkDoc.Metadata})
	}
	return records
}

// evictIdleConversationsPeriodically runs component L's 24h idle sweep
// (spec.md §4.10) for the lifetime of the process. An hourly tick is frequent
// enough to keep idle sessions from lingering without meaningfully competing
// with request traffic for the store's mutex.
func evictIdleConversationsPeriodically(ctx context.Context, conversations *memory.ConversationStore) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := conversations.EvictIdle(now); n > 0 {
				logging.Log.WithField("evicted", n).Info("evicted idle conversation sessions")
			}
		}
	}
}

// startFileWatcher wires component F (the fsnotify-backed watcher) to
// component C (the hash tracker) and component E (the similarity graph):
// every settled, genuinely new or changed file under cfg.Workdir is
// re-embedded and re-chunked into the live indexes without requiring a
// process restart or a full corpus rescan. Runs in the background; a
// watcher failure (e.g. the workdir doesn't support inotify) only disables
// incremental updates, not the service.
func startFileWatcher(ctx context.Context, cfg config.Config, tracker *hashtrack.Tracker, simGraph *simgraph.Graph, embedder vectorindex.Embedder, summaries, chunks vectorindex.Index, knownFiles, knownIdentifiers map[string]struct{}) {
	onChange := func(ctx context.Context, change watch.FileChange) error {
		rel := change.Path
		if r, err := filepath.Rel(cfg.Workdir, change.Path); err == nil {
			rel = r
		}
		f := depgraph.SourceFile{Path: rel, Content: string(change.Content)}

		knownFiles[rel] = struct{}{}
		for _, ident := range extractIdentifiers(f.Content) {
			knownIdentifiers[ident] = struct{}{}
		}

		embedFile(ctx, embedder, summaries, chunks, f)
		simGraph.Update([]simgraph.Node{{ID: rel, Content: f.Content, Type: simgraph.NodeFileSummary}})
		logging.Log.WithField("file", rel).WithField("status", int(change.Status)).Info("re-indexed changed file")
		return nil
	}

	debounce := time.Duration(cfg.Watcher.DebounceMs) * time.Millisecond
	settle := time.Duration(cfg.Watcher.SettleMs) * time.Millisecond
	watcher := watch.New(cfg.Workdir, tracker, debounce, settle, cfg.Indexer.WorkerThreads, onChange)

	if cfg.Watcher.Queue == "kafka" {
		watcher.Queue = &watch.KafkaQueue{
			Brokers:     cfg.Watcher.KafkaBrokers,
			Topic:       cfg.Watcher.KafkaTopic,
			GroupID:     cfg.Watcher.KafkaGroupID,
			WorkerCount: cfg.Indexer.WorkerThreads,
		}
		watcher.Writer = &kafka.Writer{
			Addr:  kafka.TCP(cfg.Watcher.KafkaBrokers...),
			Topic: cfg.Watcher.KafkaTopic,
		}
		go func() {
			if err := watcher.RunQueueConsumer(ctx); err != nil && ctx.Err() == nil {
				logging.Log.WithError(err).Warn("watch queue consumer stopped")
			}
		}()
	}

	go func() {
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			logging.Log.WithError(err).Warn("file watcher stopped")
		}
	}()
}

func summarize(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	var lines []string
	for scanner.Scan() && len(lines) < 10 {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, "\n")
}

func extractIdentifiers(content string) []string {
	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "func ") || strings.HasPrefix(line, "type ") {
			fields := strings.FieldsFunc(line, func(r rune) bool {
				return r == ' ' || r == '(' || r == ')' || r == '*' || r == '{'
			})
			if len(fields) >= 2 {
				out = append(out, fields[1])
			}
		}
	}
	return out
}
