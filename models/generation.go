package models

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const DefaultImageMimeType = "image/png"

// Artifact 生成服务输入输出的二进制资源
type Artifact struct {
	MimeType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

func (a Artifact) DataURI() string {
	mime := a.MimeType
	if mime == "" {
		mime = "application/octet-stream"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
}

func IsDataURI(ref string) bool {
	return strings.HasPrefix(ref, "data:")
}

// ParseDataURI 解析 data:<mime>;base64,<payload>；裸 base64 视为 png
func ParseDataURI(ref string) (Artifact, error) {
	mime := DefaultImageMimeType
	payload := ref
	if IsDataURI(ref) {
		header, body, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return Artifact{}, fmt.Errorf("unsupported data uri header %q", header)
		}
		if m := strings.TrimSuffix(header, ";base64"); m != "" {
			mime = m
		}
		payload = body
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Artifact{}, fmt.Errorf("decode base64 payload: %w", err)
	}
	return Artifact{MimeType: mime, Data: data}, nil
}

type PartKind string

const (
	PartKindImage PartKind = "image"
	PartKindText  PartKind = "text"
)

// PartRole 标记每个部分的来源，顺序即发送顺序
type PartRole string

const (
	PartRoleBaseReference      PartRole = "base_reference"
	PartRoleCharacterReference PartRole = "character_reference"
	PartRoleItemReference      PartRole = "item_reference"
	PartRoleProjectReference   PartRole = "project_reference"
	PartRoleDirective          PartRole = "directive"
)

type ContextPart struct {
	Kind PartKind `json:"kind"`
	Role PartRole `json:"role"`
	Ref  string   `json:"ref,omitempty"`
	Text string   `json:"text,omitempty"`
}

// GenerationContext 单次生图请求的多模态输入
type GenerationContext struct {
	Parts       []ContextPart `json:"parts"`
	AspectRatio AspectRatio   `json:"aspectRatio"`
	ImageSize   ImageSize     `json:"imageSize"`
}

func (g GenerationContext) ImageRefs() []string {
	var refs []string
	for _, p := range g.Parts {
		if p.Kind == PartKindImage {
			refs = append(refs, p.Ref)
		}
	}
	return refs
}

// ImagePart 已解析的生图输入：图片或文字二选一
type ImagePart struct {
	Text  string    `json:"text,omitempty"`
	Image *Artifact `json:"image,omitempty"`
}

type ImageRequest struct {
	Parts       []ImagePart `json:"parts"`
	AspectRatio AspectRatio `json:"aspectRatio"`
	ImageSize   ImageSize   `json:"imageSize"`
}

type StoryboardRequest struct {
	Seed       string             `json:"seed"`
	Style      VisualStyle        `json:"style"`
	Language   Language           `json:"language"`
	Characters []CharacterProfile `json:"characters,omitempty"`
}
