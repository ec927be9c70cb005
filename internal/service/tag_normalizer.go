package service

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/user/reelshelf/internal/model"
)

// RawTag LLM 返回的原始标签，Weight 可能是数字、数字字符串或其他任意值
type RawTag struct {
	Category model.TagCategory
	Name     string
	Weight   interface{}
}

// WeightedTag 规范化后的标签
type WeightedTag struct {
	Category model.TagCategory `json:"category"`
	Name     string            `json:"name"`
	Weight   float64           `json:"weight"`
}

type tagKey struct {
	category model.TagCategory
	name     string
}

// TagSet 去重后的标签集合，保持首次出现的顺序
type TagSet struct {
	tags  []WeightedTag
	index map[tagKey]int
}

func newTagSet() *TagSet {
	return &TagSet{index: make(map[tagKey]int)}
}

// Tags 按首次出现顺序返回
func (s *TagSet) Tags() []WeightedTag {
	out := make([]WeightedTag, len(s.tags))
	copy(out, s.tags)
	return out
}

func (s *TagSet) Len() int { return len(s.tags) }

// Get 查询某个标签的权重
func (s *TagSet) Get(category model.TagCategory, name string) (float64, bool) {
	i, ok := s.index[tagKey{category, name}]
	if !ok {
		return 0, false
	}
	return s.tags[i].Weight, true
}

// put 同一 (分类, 名称) 保留最大权重，位置不变
func (s *TagSet) put(t WeightedTag) {
	k := tagKey{t.Category, t.Name}
	if i, ok := s.index[k]; ok {
		if t.Weight > s.tags[i].Weight {
			s.tags[i].Weight = t.Weight
		}
		return
	}
	s.index[k] = len(s.tags)
	s.tags = append(s.tags, t)
}

// NormalizeTagName 去首尾空白和标点、合并内部空白、转小写
func NormalizeTagName(name string) string {
	s := strings.Join(strings.Fields(name), " ")
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// normalizeWeight 非有限值或 <= 0 丢弃，其余截断到 [0,1]
func normalizeWeight(v interface{}) (float64, bool) {
	f, ok := coerceNumber(v)
	if !ok || f <= 0 {
		return 0, false
	}
	return clamp01(f), true
}

// NormalizeTags 规范化一次 LLM 响应中的全部标签
func NormalizeTags(raw []RawTag) *TagSet {
	set := newTagSet()
	for _, r := range raw {
		name := NormalizeTagName(r.Name)
		if name == "" {
			continue
		}
		w, ok := normalizeWeight(r.Weight)
		if !ok {
			continue
		}
		set.put(WeightedTag{Category: r.Category, Name: name, Weight: w})
	}
	return set
}

// 每个分类在 JSON 中允许的键名（不区分大小写）
var categoryKeys = map[model.TagCategory][]string{
	model.CategoryTheme:   {"theme", "themes"},
	model.CategoryMood:    {"mood", "moods"},
	model.CategoryTone:    {"tone", "tones"},
	model.CategorySetting: {"setting", "settings"},
}

// ParseTagResponse 把 LLM 文本解析为四个分类下的原始标签
// 根不是对象或分类值不是对象时返回 ErrInvalidFormat；分类键完全缺失时返回 ErrMissingCategory；
// 分类值为 null 视为空分类
func ParseTagResponse(raw string) ([]RawTag, error) {
	body := stripCodeFence(raw)
	entries, err := decodeObjectEntries([]byte(body))
	if err != nil {
		return nil, invalidFormat("tag response root: %v", err)
	}

	byKey := make(map[string]objectEntry, len(entries))
	for _, e := range entries {
		k := strings.ToLower(strings.TrimSpace(e.Key))
		if _, dup := byKey[k]; !dup {
			byKey[k] = e
		}
	}

	var out []RawTag
	for _, category := range model.TagCategories {
		var (
			entry objectEntry
			found bool
		)
		for _, k := range categoryKeys[category] {
			if entry, found = byKey[k]; found {
				break
			}
		}
		if !found {
			return nil, &ParseError{Kind: ErrMissingCategory, Detail: string(category)}
		}
		if strings.TrimSpace(string(entry.Raw)) == "null" {
			continue
		}
		tags, err := decodeObjectEntries(entry.Raw)
		if err != nil {
			return nil, invalidFormat("category %s: %v", category, err)
		}
		for _, t := range tags {
			w, err := decodeLoose(t.Raw)
			if err != nil {
				return nil, invalidFormat("category %s tag %q: %v", category, t.Key, err)
			}
			out = append(out, RawTag{Category: category, Name: t.Key, Weight: w})
		}
	}
	return out, nil
}

// formatTagSet 调试输出
func formatTagSet(s *TagSet) string {
	parts := make([]string, 0, s.Len())
	for _, t := range s.tags {
		parts = append(parts, fmt.Sprintf("%s:%s=%.2f", t.Category, t.Name, t.Weight))
	}
	return strings.Join(parts, ", ")
}
