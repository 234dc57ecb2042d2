package models

import "time"

type AspectRatio string

const (
	AspectRatio1x1  AspectRatio = "1:1"
	AspectRatio2x3  AspectRatio = "2:3"
	AspectRatio3x2  AspectRatio = "3:2"
	AspectRatio3x4  AspectRatio = "3:4"
	AspectRatio4x3  AspectRatio = "4:3"
	AspectRatio9x16 AspectRatio = "9:16"
	AspectRatio16x9 AspectRatio = "16:9"
	AspectRatio21x9 AspectRatio = "21:9"
)

type ImageSize string

const (
	ImageSize1K ImageSize = "1K"
	ImageSize2K ImageSize = "2K"
	ImageSize4K ImageSize = "4K"
)

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageChinese Language = "zh"
)

// MaxReferenceImages 项目级参考图上限
const MaxReferenceImages = 3

type FormatSettings struct {
	AspectRatio            AspectRatio `json:"aspectRatio" validate:"oneof=1:1 2:3 3:2 3:4 4:3 9:16 16:9 21:9"`
	ImageSize              ImageSize   `json:"imageSize" validate:"oneof=1K 2K 4K"`
	VisualStyle            string      `json:"visualStyle" validate:"required"`
	CustomStyleDescription string      `json:"customStyleDescription,omitempty"`
}

func DefaultFormatSettings() FormatSettings {
	return FormatSettings{
		AspectRatio: AspectRatio16x9,
		ImageSize:   ImageSize1K,
		VisualStyle: "cinematic",
	}
}

type StoryboardScript struct {
	Title           string             `json:"title"`
	Theme           string             `json:"theme"`
	Shots           []Shot             `json:"shots"`
	CharacterRoster []CharacterProfile `json:"characterRoster,omitempty"`
	ItemRoster      []KeyItem          `json:"itemRoster,omitempty"`
	ReferenceImages []string           `json:"referenceImages,omitempty"`
}

func (s StoryboardScript) Clone() StoryboardScript {
	out := s
	if s.Shots != nil {
		out.Shots = make([]Shot, len(s.Shots))
		for i, sh := range s.Shots {
			out.Shots[i] = sh.Clone()
		}
	}
	out.CharacterRoster = CloneCharacters(s.CharacterRoster)
	out.ItemRoster = CloneItems(s.ItemRoster)
	if s.ReferenceImages != nil {
		out.ReferenceImages = append([]string(nil), s.ReferenceImages...)
	}
	return out
}

// SavedProject 持久化的项目单元
type SavedProject struct {
	ID             string           `json:"id"`
	SavedAt        time.Time        `json:"savedAt"`
	Script         StoryboardScript `json:"script"`
	FormatSettings FormatSettings   `json:"formatSettings"`
}

func (p SavedProject) Clone() SavedProject {
	p.Script = p.Script.Clone()
	return p
}

// ProjectSummary 项目列表展示用
type ProjectSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	ShotCount int       `json:"shotCount"`
	SavedAt   time.Time `json:"savedAt"`
}

func (p SavedProject) Summary() ProjectSummary {
	return ProjectSummary{
		ID:        p.ID,
		Title:     p.Script.Title,
		ShotCount: len(p.Script.Shots),
		SavedAt:   p.SavedAt,
	}
}

type StoryConcept struct {
	Title   string `json:"title"`
	Premise string `json:"premise"`
}

// ConceptInputs 引导模式的三步输入
type ConceptInputs struct {
	Genre       string `json:"genre" validate:"required"`
	Conflict    string `json:"conflict" validate:"required"`
	Protagonist string `json:"protagonist" validate:"required"`
	Seed        string `json:"seed"`
}

type ChatRole string

const (
	ChatRoleUser  ChatRole = "user"
	ChatRoleModel ChatRole = "model"
)

type Citation struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

type ChatMessage struct {
	Role      ChatRole   `json:"role"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
}
