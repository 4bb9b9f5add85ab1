package memory

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/lsynpy/nanobot/pkg/logger"
)

const (
	SourceConversations = "conversations"
	SourceNotes         = "notes"

	maxIndexedRunes = 8000
)

type SearchResult struct {
	ID        string  `json:"id"`
	Content   string  `json:"content"`
	Score     float32 `json:"score"`
	Timestamp string  `json:"timestamp"`
	Source    string  `json:"source"`
	Session   string  `json:"session,omitempty"`
}

// VectorStore indexes finished turns and MEMORY.md notes for semantic recall.
type VectorStore struct {
	db            *chromem.DB
	conversations *chromem.Collection
	notes         *chromem.Collection
}

// NewVectorStore opens (or creates) a persistent store under dir.
func NewVectorStore(dir string, embed chromem.EmbeddingFunc) (*VectorStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}

	conversations, err := db.GetOrCreateCollection(SourceConversations, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create conversations collection: %w", err)
	}
	notes, err := db.GetOrCreateCollection(SourceNotes, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("create notes collection: %w", err)
	}

	logger.InfoCF("memory", "Vector store initialized", map[string]interface{}{
		"path":          dir,
		"conversations": conversations.Count(),
		"notes":         notes.Count(),
	})

	return &VectorStore{db: db, conversations: conversations, notes: notes}, nil
}

// NewOpenAIEmbedding returns an embedding function for an OpenAI-compatible
// endpoint. An empty baseURL means api.openai.com.
func NewOpenAIEmbedding(apiKey, baseURL, model string) chromem.EmbeddingFunc {
	if baseURL == "" {
		return chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI(model))
	}
	return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, model, nil)
}

// IndexTurn embeds one user/assistant exchange.
func (vs *VectorStore) IndexTurn(ctx context.Context, sessionKey, userMsg, assistantMsg string) error {
	ts := time.Now()
	doc := chromem.Document{
		ID:      fmt.Sprintf("%s:%d", sessionKey, ts.UnixNano()),
		Content: clip(fmt.Sprintf("User: %s\nAssistant: %s", userMsg, assistantMsg)),
		Metadata: map[string]string{
			"session_key": sessionKey,
			"timestamp":   ts.Format(time.RFC3339),
		},
	}
	if err := vs.conversations.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("index turn: %w", err)
	}
	return nil
}

// IndexNotes splits notes into paragraphs and indexes each one. Unchanged
// paragraphs keep their ID and are not embedded again.
func (vs *VectorStore) IndexNotes(ctx context.Context, notes string) (int, error) {
	indexed := 0
	for _, para := range strings.Split(notes, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		sum := sha1.Sum([]byte(para))
		id := "note:" + hex.EncodeToString(sum[:8])
		if _, err := vs.notes.GetByID(ctx, id); err == nil {
			continue
		}
		doc := chromem.Document{
			ID:      id,
			Content: clip(para),
			Metadata: map[string]string{
				"timestamp": time.Now().Format(time.RFC3339),
			},
		}
		if err := vs.notes.AddDocument(ctx, doc); err != nil {
			return indexed, fmt.Errorf("index note: %w", err)
		}
		indexed++
	}
	return indexed, nil
}

func (vs *VectorStore) Count() int {
	return vs.conversations.Count() + vs.notes.Count()
}

// Search queries one source, or both for "all", merging by similarity.
func (vs *VectorStore) Search(ctx context.Context, query string, limit int, source string) ([]SearchResult, error) {
	if limit < 1 {
		limit = 5
	}
	switch source {
	case "", "all":
		var all []SearchResult
		for _, src := range []string{SourceConversations, SourceNotes} {
			res, err := vs.query(ctx, src, query, limit)
			if err != nil {
				logger.WarnCF("memory", "Search failed", map[string]interface{}{
					"source": src,
					"error":  err.Error(),
				})
				continue
			}
			all = append(all, res...)
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
		if len(all) > limit {
			all = all[:limit]
		}
		return all, nil
	case SourceConversations, SourceNotes:
		return vs.query(ctx, source, query, limit)
	}
	return nil, fmt.Errorf("unknown source %q (use: all, conversations, notes)", source)
}

func (vs *VectorStore) query(ctx context.Context, source, query string, limit int) ([]SearchResult, error) {
	col := vs.conversations
	if source == SourceNotes {
		col = vs.notes
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if limit > n {
		limit = n
	}

	results, err := col.Query(ctx, query, limit, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", source, err)
	}

	out := make([]SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, SearchResult{
			ID:        r.ID,
			Content:   r.Content,
			Score:     r.Similarity,
			Timestamp: r.Metadata["timestamp"],
			Session:   r.Metadata["session_key"],
			Source:    source,
		})
	}
	return out, nil
}

// FormatResults renders results as a markdown list grouped by source.
func FormatResults(results []SearchResult) string {
	if len(results) == 0 {
		return "No memories found."
	}

	var sb strings.Builder
	for _, src := range []string{SourceNotes, SourceConversations} {
		header := false
		for _, r := range results {
			if r.Source != src {
				continue
			}
			if !header {
				if sb.Len() > 0 {
					sb.WriteString("\n")
				}
				sb.WriteString("## " + strings.ToUpper(src[:1]) + src[1:] + "\n")
				header = true
			}
			preview := []rune(r.Content)
			text := r.Content
			if len(preview) > 200 {
				text = string(preview[:200]) + "..."
			}
			fmt.Fprintf(&sb, "- [%s] %s\n", formatDate(r.Timestamp), text)
		}
	}
	return sb.String()
}

func clip(s string) string {
	runes := []rune(s)
	if len(runes) > maxIndexedRunes {
		return string(runes[:maxIndexedRunes])
	}
	return s
}

func formatDate(ts string) string {
	if ts == "" {
		return "unknown"
	}
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return ts
	}
	return t.Format("2006-01-02")
}
