// Package contextassembly builds the bounded context window sent to the
// model from live file search, the knowledge index and recent changes.
package contextassembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/doeshing/shai-agent/internal/domain"
	"github.com/doeshing/shai-agent/internal/infrastructure/metrics"
	"github.com/doeshing/shai-agent/internal/ports"
)

// Source names reported in ContextResult.Degraded.
const (
	SourceNameLive      = "live-file"
	SourceNameKnowledge = "knowledge-base"
	SourceNameMentions  = "mentions"
	SourceNameRecent    = "recent-change"
)

// maxMentionedFiles bounds the explicit mentions read per request.
const maxMentionedFiles = 5

// PathFilter is the context deny-list.
type PathFilter interface {
	AllowsContextPath(path string) bool
}

// Settings are the static assembly parameters.
type Settings struct {
	TokenBudget   int
	MaxChunkBytes int
	Extensions    []string
	KnowledgeK    int
	RecentLimit   int
}

// SettingsFrom extracts the assembly settings from the application config.
func SettingsFrom(cfg domain.Config) Settings {
	return Settings{
		TokenBudget:   cfg.GetTokenBudget(),
		MaxChunkBytes: cfg.GetMaxChunkBytes(),
		Extensions:    cfg.GetContextExtensions(),
		KnowledgeK:    cfg.GetKnowledgeK(),
		RecentLimit:   cfg.GetRecentLimit(),
	}
}

// BuildOptions carries per-request inputs.
type BuildOptions struct {
	History []domain.ConversationTurn
}

// Assembler gathers context candidates and fits them into the budget.
type Assembler struct {
	Searcher  ports.FileSearcher
	Knowledge ports.KnowledgeIndex
	Changes   ports.ChangeFeed
	Filter    PathFilter
	Logger    ports.Logger
	Settings  Settings
}

// EstimateTokens approximates the token count of s as ceil(len(s)/4).
func EstimateTokens(s string) int {
	return (len(s) + domain.CharsPerToken - 1) / domain.CharsPerToken
}

type buckets struct {
	relevance []domain.ContextChunk
	mentions  []domain.ContextChunk
	recent    []domain.ContextChunk
}

// Build never fails: a source that errors is skipped and named in
// Degraded, and an empty result is valid.
func (a *Assembler) Build(ctx context.Context, message string, opts BuildOptions) domain.ContextResult {
	ctx, span := otel.Tracer("shai-agent/contextassembly").Start(ctx, "context.build")
	defer span.End()

	settings := a.settings()
	query, expanded := ExpandQuery(message, opts.History)
	result := domain.ContextResult{Query: query, Expanded: expanded}

	candidates, degraded := a.gather(ctx, query, settings)
	result.Degraded = degraded
	for _, source := range degraded {
		metrics.ObserveRetrievalFailure(source)
	}

	chunks := fit(candidates, settings.TokenBudget, settings.MaxChunkBytes, a.allows)
	result.Chunks = chunks
	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		tokens := EstimateTokens(chunk.Text)
		result.Tokens += tokens
		texts = append(texts, chunk.Text)
		result.Sources = append(result.Sources, domain.SourceMeta{
			Kind:   chunk.Source.Kind,
			Path:   chunk.Source.Path,
			Line:   chunk.Source.Line,
			Score:  chunk.Score,
			Tokens: tokens,
		})
	}
	result.Text = strings.Join(texts, "\n\n")

	metrics.ObserveContext(result.Tokens)
	span.SetAttributes(
		attribute.Int("context.tokens", result.Tokens),
		attribute.Int("context.chunks", len(chunks)),
		attribute.Bool("context.expanded", expanded),
	)
	a.debug("context assembled", map[string]interface{}{
		"tokens":   result.Tokens,
		"chunks":   len(chunks),
		"expanded": expanded,
		"degraded": strings.Join(degraded, ","),
	})
	return result
}

// gather fetches all sources concurrently. No source failure cancels the
// others.
func (a *Assembler) gather(ctx context.Context, query string, settings Settings) (buckets, []string) {
	var (
		mu       sync.Mutex
		b        buckets
		degraded []string
		g        errgroup.Group
	)
	fail := func(source string, err error) {
		mu.Lock()
		degraded = append(degraded, source)
		mu.Unlock()
		if a.Logger != nil {
			a.Logger.Warn("context source unavailable", map[string]interface{}{
				"source": source,
				"error":  err.Error(),
			})
		}
	}

	if a.Searcher != nil {
		g.Go(func() error {
			chunks, err := a.liveChunks(ctx, query, settings)
			if err != nil {
				fail(SourceNameLive, err)
			}
			mu.Lock()
			b.relevance = append(b.relevance, chunks...)
			mu.Unlock()
			return nil
		})
		g.Go(func() error {
			chunks, err := a.mentionChunks(ctx, query, settings)
			if err != nil {
				fail(SourceNameMentions, err)
			}
			mu.Lock()
			b.mentions = append(b.mentions, chunks...)
			mu.Unlock()
			return nil
		})
	}
	if a.Knowledge != nil {
		g.Go(func() error {
			chunks, err := a.knowledgeChunks(ctx, query, settings)
			if err != nil {
				fail(SourceNameKnowledge, err)
				return nil
			}
			mu.Lock()
			b.relevance = append(b.relevance, chunks...)
			mu.Unlock()
			return nil
		})
	}
	if a.Changes != nil && a.Searcher != nil {
		g.Go(func() error {
			chunks, err := a.recentChunks(ctx, settings)
			if err != nil {
				fail(SourceNameRecent, err)
				return nil
			}
			mu.Lock()
			b.recent = chunks
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(degraded)
	return b, degraded
}

// liveChunks scores each hit by the share of query keywords it contains.
func (a *Assembler) liveChunks(ctx context.Context, query string, settings Settings) ([]domain.ContextChunk, error) {
	keywords := Keywords(query)
	if len(keywords) == 0 {
		return nil, nil
	}

	type hitKey struct {
		path string
		line int
	}
	matches := make(map[hitKey]int)
	hits := make(map[hitKey]domain.SearchHit)
	var order []hitKey
	var errs []error
	for _, keyword := range keywords {
		found, err := a.Searcher.Search(ctx, keyword, settings.Extensions)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, hit := range found {
			key := hitKey{path: hit.Path, line: hit.Line}
			if _, ok := hits[key]; !ok {
				hits[key] = hit
				order = append(order, key)
			}
			matches[key]++
		}
	}
	if len(errs) == len(keywords) {
		return nil, errors.Join(errs...)
	}

	chunks := make([]domain.ContextChunk, 0, len(order))
	for _, key := range order {
		hit := hits[key]
		content := strings.ToLower(hit.Content)
		covered := 0
		for _, keyword := range keywords {
			if strings.Contains(content, keyword) {
				covered++
			}
		}
		covered = max(covered, matches[key])
		chunks = append(chunks, domain.ContextChunk{
			Text:  fmt.Sprintf("[%s:%d]\n%s", hit.Path, hit.Line, hit.Content),
			Score: float64(covered) / float64(len(keywords)),
			Source: domain.ChunkSource{
				Kind: domain.SourceLiveFile,
				Path: hit.Path,
				Line: hit.Line,
			},
		})
	}
	return chunks, nil
}

func (a *Assembler) knowledgeChunks(ctx context.Context, query string, settings Settings) ([]domain.ContextChunk, error) {
	found, err := a.Knowledge.SimilarChunks(ctx, query, settings.KnowledgeK)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.ContextChunk, 0, len(found))
	for i, item := range found {
		header := item.Path
		if header == "" {
			header = "knowledge"
		}
		chunks = append(chunks, domain.ContextChunk{
			Text:  fmt.Sprintf("[%s]\n%s", header, item.Text),
			Score: item.Score,
			Source: domain.ChunkSource{
				Kind: domain.SourceKnowledgeBase,
				Path: item.Path,
				Line: i + 1,
			},
		})
	}
	return chunks, nil
}

// mentionChunks reads files named in the query and splits them into
// chunks. Earlier chunks of a file score higher. A mentioned file that
// does not exist is not a source failure.
func (a *Assembler) mentionChunks(ctx context.Context, query string, settings Settings) ([]domain.ContextChunk, error) {
	paths := MentionedPaths(query, settings.Extensions)
	if len(paths) > maxMentionedFiles {
		paths = paths[:maxMentionedFiles]
	}
	if len(paths) == 0 {
		return nil, nil
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(settings.MaxChunkBytes),
		textsplitter.WithChunkOverlap(0),
	)
	budgetBytes := settings.TokenBudget * domain.CharsPerToken

	var chunks []domain.ContextChunk
	var errs []error
	for _, path := range paths {
		if !a.allows(path) {
			continue
		}
		content, err := a.Searcher.ReadFile(ctx, path, budgetBytes)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("read %s: %w", path, err))
			}
			continue
		}
		parts, err := splitter.SplitText(content)
		if err != nil {
			errs = append(errs, fmt.Errorf("split %s: %w", path, err))
			continue
		}
		offset := 0
		for i, part := range parts {
			line := 1
			if idx := strings.Index(content[offset:], part); idx >= 0 {
				line = 1 + strings.Count(content[:offset+idx], "\n")
				offset += idx
			}
			chunks = append(chunks, domain.ContextChunk{
				Text:  fmt.Sprintf("[%s:%d]\n%s", path, line, part),
				Score: 1 - float64(i)*0.01,
				Source: domain.ChunkSource{
					Kind: domain.SourceLiveFile,
					Path: path,
					Line: line,
				},
			})
		}
	}
	if len(chunks) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return chunks, nil
}

// recentChunks takes the head of each recently changed file. Newer files
// score higher.
func (a *Assembler) recentChunks(ctx context.Context, settings Settings) ([]domain.ContextChunk, error) {
	changes, err := a.Changes.RecentChanges(ctx, settings.RecentLimit)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.ContextChunk, 0, len(changes))
	for rank, change := range changes {
		if !a.allows(change.Path) {
			continue
		}
		head, err := a.Searcher.ReadFile(ctx, change.Path, settings.MaxChunkBytes)
		if err != nil || strings.TrimSpace(head) == "" {
			continue
		}
		chunks = append(chunks, domain.ContextChunk{
			Text:  fmt.Sprintf("[%s (recently changed)]\n%s", change.Path, head),
			Score: 1 / float64(rank+2),
			Source: domain.ChunkSource{
				Kind:      domain.SourceRecentChange,
				Path:      change.Path,
				Timestamp: change.ModifiedAt,
			},
		})
	}
	return chunks, nil
}

func (a *Assembler) allows(path string) bool {
	if a.Filter == nil || path == "" {
		return true
	}
	return a.Filter.AllowsContextPath(path)
}

func (a *Assembler) settings() Settings {
	s := a.Settings
	if s.TokenBudget <= 0 {
		s.TokenBudget = domain.DefaultTokenBudget
	}
	if s.MaxChunkBytes <= 0 {
		s.MaxChunkBytes = domain.DefaultMaxChunkBytes
	}
	if len(s.Extensions) == 0 {
		s.Extensions = domain.DefaultContextExtensions
	}
	if s.KnowledgeK <= 0 {
		s.KnowledgeK = domain.DefaultKnowledgeK
	}
	if s.RecentLimit <= 0 {
		s.RecentLimit = domain.DefaultRecentLimit
	}
	return s
}

func (a *Assembler) debug(msg string, fields map[string]interface{}) {
	if a.Logger != nil {
		a.Logger.Debug(msg, fields)
	}
}

// fit applies the deny-list, truncation, de-duplication and the bucket
// budgets, and returns the chunks in descending score order. The summed
// EstimateTokens of the result never exceeds budget.
func fit(b buckets, budget, maxChunkBytes int, allows func(string) bool) []domain.ContextChunk {
	if budget <= 0 {
		return nil
	}
	seen := make(map[string]bool)
	relevance := prepare(b.relevance, maxChunkBytes, allows, seen)
	mentions := prepare(b.mentions, maxChunkBytes, allows, seen)
	recent := prepare(b.recent, maxChunkBytes, allows, seen)

	relevanceBudget := budget * domain.RelevanceSharePercent / 100
	mentionBudget := budget * domain.MentionSharePercent / 100
	recentBudget := budget - relevanceBudget - mentionBudget

	selected, used := fill(relevance, relevanceBudget)
	mentionBudget += relevanceBudget - used

	picked, used := fill(mentions, mentionBudget)
	selected = append(selected, picked...)
	recentBudget += mentionBudget - used

	picked, _ = fill(recent, recentBudget)
	selected = append(selected, picked...)

	sort.SliceStable(selected, func(i, j int) bool { return selected[i].Score > selected[j].Score })

	total := 0
	for i, chunk := range selected {
		total += EstimateTokens(chunk.Text)
		if total > budget {
			return selected[:i]
		}
	}
	return selected
}

// prepare filters, truncates and de-duplicates one bucket. The first
// occurrence of a key, in the highest-priority bucket, wins.
func prepare(chunks []domain.ContextChunk, maxChunkBytes int, allows func(string) bool, seen map[string]bool) []domain.ContextChunk {
	sorted := append([]domain.ContextChunk(nil), chunks...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	out := make([]domain.ContextChunk, 0, len(sorted))
	for _, chunk := range sorted {
		if allows != nil && chunk.Source.Path != "" && !allows(chunk.Source.Path) {
			continue
		}
		key := chunk.DedupKey()
		if seen[key] {
			continue
		}
		seen[key] = true
		chunk.Text = truncateUTF8(chunk.Text, maxChunkBytes)
		if strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		out = append(out, chunk)
	}
	return out
}

// fill takes chunks in order while they fit, skipping any that would
// overflow the budget.
func fill(chunks []domain.ContextChunk, budget int) ([]domain.ContextChunk, int) {
	var picked []domain.ContextChunk
	used := 0
	for _, chunk := range chunks {
		tokens := EstimateTokens(chunk.Text)
		if used+tokens > budget {
			continue
		}
		picked = append(picked, chunk)
		used += tokens
	}
	return picked, used
}

func truncateUTF8(text string, maxBytes int) string {
	if maxBytes <= 0 || len(text) <= maxBytes {
		return text
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut]
}
