package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate 结构体校验（validate tag）
func Validate(v interface{}) error {
	return validate.Struct(v)
}

type CharacterProfile struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Age               string   `json:"age,omitempty"`
	Gender            string   `json:"gender,omitempty"`
	Occupation        string   `json:"occupation,omitempty"`
	Summary           string   `json:"summary"`
	Personality       string   `json:"personality,omitempty"`
	Backstory         string   `json:"backstory,omitempty"`
	VisualTraits      []string `json:"visualTraits"`
	ReferenceImageURL string   `json:"referenceImageUrl,omitempty"`
	AlternateImages   []string `json:"alternateImages,omitempty"`
	IsGlobal          bool     `json:"isGlobal"`
}

func (c CharacterProfile) Clone() CharacterProfile {
	if c.VisualTraits != nil {
		c.VisualTraits = append([]string(nil), c.VisualTraits...)
	}
	if c.AlternateImages != nil {
		c.AlternateImages = append([]string(nil), c.AlternateImages...)
	}
	return c
}

func CloneCharacters(in []CharacterProfile) []CharacterProfile {
	if in == nil {
		return nil
	}
	out := make([]CharacterProfile, len(in))
	for i, c := range in {
		out[i] = c.Clone()
	}
	return out
}

type KeyItem struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl,omitempty"`
	IsGlobal    bool   `json:"isGlobal"`
}

func CloneItems(in []KeyItem) []KeyItem {
	if in == nil {
		return nil
	}
	return append([]KeyItem(nil), in...)
}

// CharacterField 角色可修改字段（封闭枚举）
type CharacterField string

const (
	CharacterFieldName           CharacterField = "name"
	CharacterFieldAge            CharacterField = "age"
	CharacterFieldGender         CharacterField = "gender"
	CharacterFieldOccupation     CharacterField = "occupation"
	CharacterFieldSummary        CharacterField = "summary"
	CharacterFieldPersonality    CharacterField = "personality"
	CharacterFieldBackstory      CharacterField = "backstory"
	CharacterFieldVisualTraits   CharacterField = "visualTraits"
	CharacterFieldReferenceImage CharacterField = "referenceImageUrl"
)

type CharacterUpdate struct {
	Field  CharacterField `json:"field" validate:"required,oneof=name age gender occupation summary personality backstory visualTraits referenceImageUrl"`
	Value  string         `json:"value"`
	Traits []string       `json:"traits"`
}

func (c *CharacterProfile) Apply(u CharacterUpdate) error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: character field %q", ErrInvalidField, u.Field)
	}
	switch u.Field {
	case CharacterFieldName:
		c.Name = u.Value
	case CharacterFieldAge:
		c.Age = u.Value
	case CharacterFieldGender:
		c.Gender = u.Value
	case CharacterFieldOccupation:
		c.Occupation = u.Value
	case CharacterFieldSummary:
		c.Summary = u.Value
	case CharacterFieldPersonality:
		c.Personality = u.Value
	case CharacterFieldBackstory:
		c.Backstory = u.Value
	case CharacterFieldVisualTraits:
		c.VisualTraits = append([]string(nil), u.Traits...)
	case CharacterFieldReferenceImage:
		c.ReferenceImageURL = u.Value
	}
	return nil
}

// PushReference 新参考图替换当前图，旧图进入历史
func (c *CharacterProfile) PushReference(url string) {
	if c.ReferenceImageURL != "" {
		c.AlternateImages = append([]string{c.ReferenceImageURL}, c.AlternateImages...)
	}
	c.ReferenceImageURL = url
}

// SelectAlternate 把历史中的第 index 张换回当前参考图
func (c *CharacterProfile) SelectAlternate(index int) error {
	if index < 0 || index >= len(c.AlternateImages) {
		return fmt.Errorf("%w: alternate image index %d", ErrInvalidField, index)
	}
	picked := c.AlternateImages[index]
	c.AlternateImages[index] = c.ReferenceImageURL
	if c.AlternateImages[index] == "" {
		c.AlternateImages = append(c.AlternateImages[:index], c.AlternateImages[index+1:]...)
	}
	c.ReferenceImageURL = picked
	return nil
}

type ItemField string

const (
	ItemFieldName        ItemField = "name"
	ItemFieldDescription ItemField = "description"
	ItemFieldImage       ItemField = "imageUrl"
)

type ItemUpdate struct {
	Field ItemField `json:"field" validate:"required,oneof=name description imageUrl"`
	Value string    `json:"value"`
}

func (i *KeyItem) Apply(u ItemUpdate) error {
	if err := validate.Struct(u); err != nil {
		return fmt.Errorf("%w: item field %q", ErrInvalidField, u.Field)
	}
	switch u.Field {
	case ItemFieldName:
		i.Name = u.Value
	case ItemFieldDescription:
		i.Description = u.Value
	case ItemFieldImage:
		i.ImageURL = u.Value
	}
	return nil
}
