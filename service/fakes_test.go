package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"StoryboardStudio-server/models"
	"StoryboardStudio-server/service"
)

// fakeGen 可控的生成服务；gates 中的键出现在指令文本里时阻塞到对应 channel 收到结果（每个 gate 只用一次）
type fakeGen struct {
	mu      sync.Mutex
	calls   map[string]int
	gates   map[string]chan error
	err     error
	panicOn string
	keys    []string

	script    models.StoryboardScript
	concept   models.StoryConcept
	lastImage models.ImageRequest
	lastChat  []models.ChatMessage
}

func newFakeGen() *fakeGen {
	return &fakeGen{calls: make(map[string]int), gates: make(map[string]chan error)}
}

func (f *fakeGen) gate(key string) chan error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan error, 1)
	f.gates[key] = ch
	return ch
}

func (f *fakeGen) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeGen) enter(op, text string) error {
	f.mu.Lock()
	f.calls[op]++
	err := f.err
	var wait chan error
	for k, ch := range f.gates {
		if strings.Contains(text, k) {
			wait = ch
			delete(f.gates, k)
			break
		}
	}
	panicOn := f.panicOn
	f.mu.Unlock()

	if panicOn != "" && strings.Contains(text, panicOn) {
		panic("generator exploded")
	}
	if wait != nil {
		if gateErr := <-wait; gateErr != nil {
			return gateErr
		}
	}
	return err
}

func directiveText(req models.ImageRequest) string {
	var b strings.Builder
	for _, p := range req.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func (f *fakeGen) GenerateStoryboard(_ context.Context, req models.StoryboardRequest) (models.StoryboardScript, error) {
	if err := f.enter("storyboard", req.Seed); err != nil {
		return models.StoryboardScript{}, err
	}
	return f.script.Clone(), nil
}

func (f *fakeGen) RefineConcept(_ context.Context, in models.ConceptInputs, _ models.Language) (models.StoryConcept, error) {
	if err := f.enter("concept", in.Genre); err != nil {
		return models.StoryConcept{}, err
	}
	return f.concept, nil
}

func (f *fakeGen) GenerateShotImage(_ context.Context, req models.ImageRequest) (models.Artifact, error) {
	text := directiveText(req)
	f.mu.Lock()
	f.lastImage = req
	f.mu.Unlock()
	if err := f.enter("image", text); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{MimeType: "image/png", Data: []byte("img:" + text)}, nil
}

func (f *fakeGen) GenerateCharacterReference(_ context.Context, c models.CharacterProfile, _ models.VisualStyle) (models.Artifact, error) {
	if err := f.enter("character", c.Name); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{MimeType: "image/png", Data: []byte(fmt.Sprintf("sheet:%s:%d", c.Name, f.count("character")))}, nil
}

func (f *fakeGen) EditImage(_ context.Context, img models.Artifact, instruction string) (models.Artifact, error) {
	if err := f.enter("edit", instruction); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{MimeType: "image/png", Data: append(append([]byte(nil), img.Data...), []byte("+"+instruction)...)}, nil
}

func (f *fakeGen) Animate(_ context.Context, _ models.Artifact, motionPrompt string, _ models.AspectRatio) (models.Artifact, error) {
	if err := f.enter("animate", motionPrompt); err != nil {
		return models.Artifact{}, err
	}
	return models.Artifact{MimeType: "video/mp4", Data: []byte("mp4")}, nil
}

func (f *fakeGen) Chat(_ context.Context, message string, history []models.ChatMessage) (models.ChatMessage, error) {
	f.mu.Lock()
	f.lastChat = history
	f.mu.Unlock()
	if err := f.enter("chat", message); err != nil {
		return models.ChatMessage{}, err
	}
	return models.ChatMessage{Text: "echo: " + message}, nil
}

func (f *fakeGen) SetAPIKey(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	f.err = nil
}

type studioFixture struct {
	gen        *fakeGen
	store      *service.Store
	ctrl       *service.Controller
	dispatcher *service.InlineDispatcher
	events     *service.Broadcaster
}

func newStudio(t *testing.T, opts ...service.Option) *studioFixture {
	t.Helper()
	f := &studioFixture{gen: newFakeGen(), events: service.NewBroadcaster()}
	f.store = service.NewStore(service.NewMemorySlotStore(0))
	opts = append([]service.Option{service.WithEvents(f.events)}, opts...)
	f.ctrl = service.NewController(f.store, f.gen, nil, opts...)
	f.dispatcher = service.NewInlineDispatcher(context.Background(), f.ctrl.Execute)
	f.ctrl.UseDispatcher(f.dispatcher)
	return f
}

// heistScript 三个分镜：s1 未生成，s2 已有图片，s3 失败
func heistScript() models.StoryboardScript {
	return models.StoryboardScript{
		Title: "The Heist",
		Theme: "greed",
		Shots: []models.Shot{
			{ID: "s1", ShotType: "Wide", VisualPrompt: "vault exterior at night", Status: models.ShotStatusIdle},
			{ID: "s2", ShotType: "Close-up", VisualPrompt: "hands on the dial", Status: models.ShotStatusCompleted,
				ImageURL: models.Artifact{MimeType: "image/png", Data: []byte("s2-original")}.DataURI()},
			{ID: "s3", ShotType: "Medium", VisualPrompt: "alarm lights flood the hall", Status: models.ShotStatusError},
		},
	}
}

func (f *studioFixture) shot(t *testing.T, id string) models.Shot {
	t.Helper()
	s, err := f.store.Shot(id)
	if err != nil {
		t.Fatalf("shot %s: %v", id, err)
	}
	return s
}
