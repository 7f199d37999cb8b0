package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"chatcore/internal/domain"
	"chatcore/internal/infra/config"
)

// MemoryRepository is the slice of the persistence layer the memory service
// needs.
type MemoryRepository interface {
	InsertMemory(ctx context.Context, rec *domain.MemoryRecord) error
	UpdateMemoryContent(ctx context.Context, id, content string) error
	TouchMemory(ctx context.Context, id string) error
	DeleteMemory(ctx context.Context, id string) error
	ClearMemories(ctx context.Context) (int, error)
	MemoriesInScope(ctx context.Context, conversationID string, crossChat bool) ([]domain.MemoryRecord, error)
	MemoriesByContent(ctx context.Context, content string) ([]domain.MemoryRecord, error)
	GetOrCreateMemoryConfig(ctx context.Context) (domain.MemoryConfig, error)
	UpdateMemoryConfig(ctx context.Context, cfg domain.MemoryConfig) error
}

// MemoryService stores short free-text facts, retrieves relevant ones by a
// layered keyword scoring scheme, and deduplicates near-identical entries.
type MemoryService struct {
	repo      MemoryRepository
	stopWords map[string]bool
	stopChars map[rune]bool
	synonyms  map[string]map[string]bool
	logger    *slog.Logger
}

// NewMemoryService creates a service with scoring inputs from config.
// Configured stop words and characters extend the built-in separator set;
// synonym groups build a symmetric graph.
func NewMemoryService(repo MemoryRepository, cfg config.MemoryConfig, logger *slog.Logger) *MemoryService {
	s := &MemoryService{
		repo:      repo,
		stopWords: map[string]bool{},
		stopChars: map[rune]bool{},
		synonyms:  map[string]map[string]bool{},
		logger:    logger,
	}
	for _, w := range cfg.StopWords {
		s.stopWords[strings.ToLower(w)] = true
	}
	for _, chars := range cfg.StopCharacters {
		for _, r := range chars {
			s.stopChars[r] = true
		}
	}
	for _, group := range cfg.SynonymGroups {
		lowered := make([]string, len(group))
		for i, w := range group {
			lowered[i] = strings.ToLower(w)
		}
		for _, source := range lowered {
			for _, target := range lowered {
				if source == target {
					continue
				}
				if s.synonyms[source] == nil {
					s.synonyms[source] = map[string]bool{}
				}
				s.synonyms[source][target] = true
			}
		}
	}
	return s
}

// GetOrCreateConfig returns the singleton memory config, creating it with
// both flags enabled if none exists.
func (s *MemoryService) GetOrCreateConfig(ctx context.Context) (domain.MemoryConfig, error) {
	return s.repo.GetOrCreateMemoryConfig(ctx)
}

// UpdateConfig saves the config flags.
func (s *MemoryService) UpdateConfig(ctx context.Context, cfg domain.MemoryConfig) error {
	return s.repo.UpdateMemoryConfig(ctx, cfg)
}

// SaveMemory stores a new fact. It returns false without error when the
// feature is disabled, the content is blank, or a near-duplicate already
// exists; on a duplicate the existing record gets a recency bump instead.
func (s *MemoryService) SaveMemory(ctx context.Context, content, conversationID string) (bool, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return false, nil
	}

	cfg, err := s.repo.GetOrCreateMemoryConfig(ctx)
	if err != nil {
		return false, err
	}
	if !cfg.MemoryEnabled {
		return false, nil
	}

	candidates, err := s.repo.MemoriesInScope(ctx, conversationID, cfg.CrossChatEnabled)
	if err != nil {
		return false, err
	}

	normalized := strings.ToLower(trimmed)
	for _, rec := range candidates {
		existing := strings.ToLower(rec.Content)
		if existing == normalized || levenshtein(existing, normalized) <= 2 {
			if err := s.repo.TouchMemory(ctx, rec.ID); err != nil {
				return false, err
			}
			s.logger.Debug("near-duplicate memory, bumped recency", "id", rec.ID)
			return false, nil
		}
	}

	rec := domain.MemoryRecord{Content: trimmed}
	if !cfg.CrossChatEnabled {
		rec.ConversationID = conversationID
	}
	if err := s.repo.InsertMemory(ctx, &rec); err != nil {
		return false, err
	}
	return true, nil
}

// RetrieveMemories scores every in-scope record against the semicolon
// separated keywords of query and returns the surviving contents joined by
// blank lines, best match first. An empty result means nothing relevant
// was found or the feature is off.
func (s *MemoryService) RetrieveMemories(ctx context.Context, query, conversationID string) (string, error) {
	var keywords []string
	for _, part := range strings.Split(query, ";") {
		kw := strings.ToLower(strings.TrimSpace(part))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	if len(keywords) == 0 {
		return "", nil
	}

	cfg, err := s.repo.GetOrCreateMemoryConfig(ctx)
	if err != nil {
		return "", err
	}
	if !cfg.MemoryEnabled {
		return "", nil
	}

	records, err := s.repo.MemoriesInScope(ctx, conversationID, cfg.CrossChatEnabled)
	if err != nil {
		return "", err
	}

	type scored struct {
		rec   domain.MemoryRecord
		score int
	}
	var hits []scored
	for _, rec := range records {
		if score := s.scoreRecord(rec.Content, keywords); score > 0 {
			hits = append(hits, scored{rec: rec, score: score})
		}
	}
	if len(hits) == 0 {
		return "", nil
	}

	// Score descending, then recency descending.
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0; j-- {
			a, b := hits[j-1], hits[j]
			if b.score > a.score || (b.score == a.score && b.rec.UpdatedAt.After(a.rec.UpdatedAt)) {
				hits[j-1], hits[j] = b, a
			} else {
				break
			}
		}
	}

	contents := make([]string, len(hits))
	for i, h := range hits {
		contents[i] = h.rec.Content
	}
	return strings.Join(contents, "\n\n"), nil
}

// UpdateMemory replaces the content of every record exactly matching
// original and reports a human-readable status.
func (s *MemoryService) UpdateMemory(ctx context.Context, original, replacement string) (string, error) {
	cfg, err := s.repo.GetOrCreateMemoryConfig(ctx)
	if err != nil {
		return "", err
	}
	if !cfg.MemoryEnabled {
		return "memory feature is disabled", nil
	}

	matches, err := s.repo.MemoriesByContent(ctx, original)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "no matching memory found", nil
	}

	for _, rec := range matches {
		if err := s.repo.UpdateMemoryContent(ctx, rec.ID, replacement); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("updated %d memories", len(matches)), nil
}

// DeleteMemory removes one record.
func (s *MemoryService) DeleteMemory(ctx context.Context, id string) error {
	return s.repo.DeleteMemory(ctx, id)
}

// ClearAllMemories removes every record and reports how many went.
func (s *MemoryService) ClearAllMemories(ctx context.Context) (int, error) {
	return s.repo.ClearMemories(ctx)
}

// scoreRecord sums the per-keyword score against one record's content.
// Layered fallback per keyword: substring containment dominates; otherwise
// token-level fuzzy match, then synonym match, then raw character overlap.
func (s *MemoryService) scoreRecord(content string, keywords []string) int {
	contentLower := strings.ToLower(content)
	memoryTokens := s.tokenize(contentLower)

	total := 0
	for _, keyword := range keywords {
		if strings.Contains(contentLower, keyword) {
			total += len([]rune(keyword)) * 4
			continue
		}

		keywordTokens := s.tokenize(keyword)
		if len(keywordTokens) == 0 {
			total += s.charOverlapScore(keyword, contentLower)
			continue
		}

		if score := s.editDistanceScore(keywordTokens, memoryTokens); score > 0 {
			total += score
			continue
		}
		if score := s.synonymScore(keywordTokens, memoryTokens); score > 0 {
			total += score
			continue
		}
		total += s.charOverlapScore(keyword, contentLower)
	}
	return total
}

// editDistanceScore matches each keyword token against its best content
// token: length difference at most 2, edit distance at most 2 and strictly
// below the token length so short tokens cannot match by coincidence.
func (s *MemoryService) editDistanceScore(keywordTokens, memoryTokens []string) int {
	if len(memoryTokens) == 0 {
		return 0
	}
	total := 0
	for _, keyword := range keywordTokens {
		keywordLen := len([]rune(keyword))
		best := 0
		for _, candidate := range memoryTokens {
			lengthDiff := keywordLen - len([]rune(candidate))
			if lengthDiff < 0 {
				lengthDiff = -lengthDiff
			}
			if lengthDiff > 2 {
				continue
			}
			distance := levenshtein(keyword, candidate)
			if distance > 2 || distance >= keywordLen {
				continue
			}
			if score := (keywordLen - distance) * 2; score > best {
				best = score
			}
		}
		total += best
	}
	return total
}

func (s *MemoryService) synonymScore(keywordTokens, memoryTokens []string) int {
	if len(memoryTokens) == 0 {
		return 0
	}
	memorySet := map[string]bool{}
	for _, t := range memoryTokens {
		memorySet[t] = true
	}

	total := 0
	for _, keyword := range keywordTokens {
		synonyms := s.synonyms[keyword]
		if len(synonyms) == 0 {
			continue
		}
		for syn := range synonyms {
			if memorySet[syn] {
				total += len([]rune(keyword))
				break
			}
		}
	}
	return total
}

// charOverlapScore counts the distinct non-separator characters of the
// keyword that appear anywhere in the content.
func (s *MemoryService) charOverlapScore(keyword, content string) int {
	seen := map[rune]bool{}
	score := 0
	for _, r := range strings.ToLower(keyword) {
		if s.isStopChar(r) || seen[r] {
			continue
		}
		seen[r] = true
		if strings.ContainsRune(content, r) {
			score++
		}
	}
	return score
}

func (s *MemoryService) tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), s.isStopChar)
	var tokens []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" && !s.stopWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func (s *MemoryService) isStopChar(r rune) bool {
	if unicode.IsSpace(r) || unicode.IsPunct(r) {
		return true
	}
	return s.stopChars[r]
}

// levenshtein is the classic dynamic-programming edit distance over runes
// with unit insert, delete, and substitute costs.
func levenshtein(a, b string) int {
	ar, br := []rune(a), []rune(b)
	m, n := len(ar), len(br)
	if m == 0 {
		return n
	}
	if n == 0 {
		return m
	}

	prev := make([]int, n+1)
	curr := make([]int, n+1)
	for j := 0; j <= n; j++ {
		prev[j] = j
	}
	for i := 1; i <= m; i++ {
		curr[0] = i
		for j := 1; j <= n; j++ {
			if ar[i-1] == br[j-1] {
				curr[j] = prev[j-1]
				continue
			}
			min := prev[j-1] // substitution
			if prev[j] < min {
				min = prev[j] // deletion
			}
			if curr[j-1] < min {
				min = curr[j-1] // insertion
			}
			curr[j] = min + 1
		}
		prev, curr = curr, prev
	}
	return prev[n]
}
