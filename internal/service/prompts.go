package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/reelshelf/internal/model"
)

const tagSystemPrompt = `You are a literary and film analyst. Describe the given work with weighted thematic tags.
Return ONLY a JSON object with exactly these keys: "themes", "moods", "tones", "settings".
Each key maps tag names (short lowercase phrases, 1-3 words) to a weight between 0 and 1
expressing how central the tag is to the work. Use 3-8 tags per key. Use an empty object when
nothing applies. Do not add commentary.`

// buildTagPrompt 只依赖标题和媒体类型，保证同一条目每次的提示词一致
func buildTagPrompt(item *model.CatalogItem) string {
	kind := "movie"
	if item.MediaKind == model.MediaBook {
		kind = "book"
	}
	return fmt.Sprintf("Title: %s\nType: %s", item.Title, kind)
}

const recommendationSystemPrompt = `You are a recommendation engine for a personal movie and book tracker.
Rules:
- NEVER recommend a title that appears in the known, loved, disliked, already-known or recently recommended lists.
- Prefer thematic connections across media (a book for a film lover and vice versa) over surface genre matches.
- Do not recommend unannounced or speculative sequels; only works that exist.
- Return ONLY a JSON array. Each element: {"title": string, "type": "MOVIE" | "BOOK", "year": number,
  "creator": string, "reason": string, "matchedThemes": [string]}.
- "reason" is one or two sentences tying the work to the user's taste.`

// buildRecommendationPrompt 由口味画像、已知标题和近期推荐组装用户消息
func buildRecommendationPrompt(profile *model.TasteProfile, selection model.Selection, count int, known, recent []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Recommend exactly %d %s.\n\n", count, selectionNoun(selection))

	sb.WriteString("Taste profile (tag: weight 0-1):\n")
	for _, category := range model.TagCategories {
		tags := profile.Categories[category]
		if len(tags) == 0 {
			continue
		}
		parts := make([]string, 0, len(tags))
		for _, t := range tags {
			parts = append(parts, fmt.Sprintf("%s: %.2f", t.Name, t.Score))
		}
		fmt.Fprintf(&sb, "- %s: %s\n", strings.ToLower(string(category)), strings.Join(parts, ", "))
	}

	writeTitleList(&sb, "Loved", ratedTitles(profile.TopTitles))
	writeTitleList(&sb, "Disliked", ratedTitles(profile.BottomTitles))
	writeTitleList(&sb, "Already known (never recommend)", known)
	writeTitleList(&sb, "Recently recommended (do not repeat)", recent)
	return sb.String()
}

func selectionNoun(selection model.Selection) string {
	switch selection {
	case model.SelectionMovies:
		return "movies"
	case model.SelectionBooks:
		return "books"
	default:
		return "movies or books (mix both)"
	}
}

func ratedTitles(rows []model.RatedTitle) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fmt.Sprintf("%s (%d/5)", r.Title, r.Rating))
	}
	return out
}

func writeTitleList(sb *strings.Builder, label string, titles []string) {
	if len(titles) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s:\n", label)
	for _, t := range titles {
		fmt.Fprintf(sb, "- %s\n", t)
	}
}

// 每个维度 0.0 / 1.0 两端的含义
var dimensionAnchors = map[string][2]string{
	"pacing":              {"slow, contemplative", "relentless, fast-moving"},
	"darkness":            {"light, cheerful", "bleak, disturbing"},
	"humor":               {"entirely serious", "constantly funny"},
	"complexity":          {"simple, linear", "dense, layered, demanding"},
	"emotional_intensity": {"detached, cool", "overwhelming, cathartic"},
	"realism":             {"fantastical, surreal", "grounded, documentary-like"},
	"violence":            {"none", "graphic and pervasive"},
	"romance":             {"absent", "the central focus"},
	"hopefulness":         {"despairing", "uplifting"},
	"intellectual_depth":  {"pure entertainment", "philosophically rich"},
	"action":              {"static, dialogue-driven", "action-driven"},
	"strangeness":         {"conventional", "bizarre, experimental"},
}

// buildDimensionPrompt 固定评分标准的系统提示词
func buildDimensionPrompt() string {
	var sb strings.Builder
	sb.WriteString("Score the given work on each dimension from 0.0 to 1.0.\n")
	sb.WriteString("Return ONLY a flat JSON object mapping dimension name to number.\n\nDimensions:\n")
	for _, name := range model.Dimensions {
		a := dimensionAnchors[name]
		fmt.Fprintf(&sb, "- %s: 0.0 = %s; 1.0 = %s\n", name, a[0], a[1])
	}
	return sb.String()
}

func buildDimensionUserPrompt(item *model.CatalogItem) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nType: %s\n", item.Title, strings.ToLower(string(item.MediaKind)))
	if item.Year != nil {
		fmt.Fprintf(&sb, "Year: %d\n", *item.Year)
	}
	if item.Creator != "" {
		fmt.Fprintf(&sb, "Creator: %s\n", item.Creator)
	}
	if item.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", item.Description)
	}
	return sb.String()
}

// sortedCopy 按字母排序，保证提示词稳定
func sortedCopy(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
