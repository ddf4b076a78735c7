package lesson

// Step 课程步骤
type Step string

const (
	StepOverview          Step = "overview"
	StepSoundFocus        Step = "sound_focus"
	StepMouthPosition     Step = "mouth_position"
	StepMinimalPairs      Step = "minimal_pairs"
	StepPracticeSentences Step = "practice_sentences"
	StepEssentialPhrases  Step = "essential_phrases"
	StepTongueTwister     Step = "tongue_twister"
	StepLiveConversation  Step = "live_conversation"
)

// Steps 课程页面的步骤顺序。sound_focus 并入 overview，不单独成页。
func Steps() []Step {
	return []Step{
		StepOverview,
		StepMouthPosition,
		StepMinimalPairs,
		StepPracticeSentences,
		StepEssentialPhrases,
		StepTongueTwister,
		StepLiveConversation,
	}
}

// Next 返回下一步，已是最后一步时 ok 为 false
func Next(current Step) (Step, bool) {
	steps := Steps()
	for i, s := range steps {
		if s == current && i+1 < len(steps) {
			return steps[i+1], true
		}
	}
	return "", false
}

// Prev 返回上一步，已是第一步时 ok 为 false
func Prev(current Step) (Step, bool) {
	steps := Steps()
	for i, s := range steps {
		if s == current && i > 0 {
			return steps[i-1], true
		}
	}
	return "", false
}

// MinimalPair 最小对立词
type MinimalPair struct {
	Word1 string `json:"word1" yaml:"word1"`
	Word2 string `json:"word2" yaml:"word2"`
	IPA1  string `json:"ipa1" yaml:"ipa1"`
	IPA2  string `json:"ipa2" yaml:"ipa2"`
}

// Phrase 高频短语
type Phrase struct {
	Phrase  string `json:"phrase" yaml:"phrase"`
	Context string `json:"context" yaml:"context"`
	Tip     string `json:"tip" yaml:"tip"`
}

// Lesson 一节发音课的全部内容
type Lesson struct {
	Sound            string        `json:"sound" yaml:"sound"`
	IPA              string        `json:"ipa" yaml:"ipa"`
	Description      string        `json:"description" yaml:"description"`
	MouthGuide       string        `json:"mouthGuide" yaml:"mouthGuide"`
	MinimalPairs     []MinimalPair `json:"minimalPairs" yaml:"minimalPairs"`
	Sentences        []string      `json:"sentences" yaml:"sentences"`
	EssentialPhrases []Phrase      `json:"essentialPhrases" yaml:"essentialPhrases"`
	TongueTwister    string        `json:"tongueTwister" yaml:"tongueTwister"`
}

// PhoneticSymbol 音标及例词
type PhoneticSymbol struct {
	Symbol  string `json:"symbol" yaml:"symbol"`
	Example string `json:"example" yaml:"example"`
}

// Content 课程文件的顶层结构
type Content struct {
	Lesson   Lesson           `json:"lesson" yaml:"lesson"`
	Phonetic []PhoneticSymbol `json:"phonetic" yaml:"phonetic"`
}
