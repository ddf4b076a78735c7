package lesson

import (
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	model "github.com/zhouzirui/accent-coach/backend/internal/model/lesson"
)

//go:embed default_lesson.yaml
var defaultLesson []byte

// Store 提供只读的课程内容
type Store interface {
	Lesson() model.Lesson
	Phonetic() []model.PhoneticSymbol
	Steps() []model.Step
	FindPhrase(text string) (model.Phrase, bool)
}

// MemoryStore 内存中的课程内容
type MemoryStore struct {
	content model.Content
}

// Load 从 path 读取课程文件；path 为空时使用内置课程
func Load(path string) (*MemoryStore, error) {
	data := defaultLesson
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read lesson file: %w", err)
		}
		data = raw
		log.Printf("[lesson] loading lesson content from %s", path)
	}
	return Parse(data)
}

// Parse 解析 YAML 课程内容
func Parse(data []byte) (*MemoryStore, error) {
	var content model.Content
	if err := yaml.Unmarshal(data, &content); err != nil {
		return nil, fmt.Errorf("parse lesson content: %w", err)
	}
	if err := validate(content); err != nil {
		return nil, err
	}
	return &MemoryStore{content: content}, nil
}

// Default 返回内置课程
func Default() *MemoryStore {
	store, err := Parse(defaultLesson)
	if err != nil {
		panic(fmt.Sprintf("embedded lesson is invalid: %v", err))
	}
	return store
}

func validate(content model.Content) error {
	l := content.Lesson
	if strings.TrimSpace(l.Sound) == "" {
		return errors.New("lesson sound is required")
	}
	for i, pair := range l.MinimalPairs {
		if pair.Word1 == "" || pair.Word2 == "" {
			return fmt.Errorf("minimal pair %d is incomplete", i)
		}
	}
	for i, phrase := range l.EssentialPhrases {
		if strings.TrimSpace(phrase.Phrase) == "" {
			return fmt.Errorf("essential phrase %d is empty", i)
		}
	}
	return nil
}

// Lesson 返回课程副本
func (s *MemoryStore) Lesson() model.Lesson {
	l := s.content.Lesson
	l.MinimalPairs = append([]model.MinimalPair(nil), l.MinimalPairs...)
	l.Sentences = append([]string(nil), l.Sentences...)
	l.EssentialPhrases = append([]model.Phrase(nil), l.EssentialPhrases...)
	return l
}

// Phonetic 返回音标表
func (s *MemoryStore) Phonetic() []model.PhoneticSymbol {
	return append([]model.PhoneticSymbol(nil), s.content.Phonetic...)
}

// Steps 返回步骤顺序
func (s *MemoryStore) Steps() []model.Step {
	return model.Steps()
}

// FindPhrase 按文本查找高频短语，忽略大小写和首尾空白
func (s *MemoryStore) FindPhrase(text string) (model.Phrase, bool) {
	text = strings.TrimSpace(text)
	for _, p := range s.content.Lesson.EssentialPhrases {
		if strings.EqualFold(p.Phrase, text) {
			return p, true
		}
	}
	return model.Phrase{}, false
}
