package service_test

import (
	"math/rand"
	"sort"
	"testing"
	"time"

	"StoryboardStudio-server/models"
	"StoryboardStudio-server/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestImageGeneration_Completes(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())

	shot, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusGenerating, shot.Status)

	f.dispatcher.Wait()
	got := f.shot(t, "s1")
	assert.Equal(t, models.ShotStatusCompleted, got.Status)
	assert.True(t, models.IsDataURI(got.ImageURL))
	assert.False(t, f.ctrl.InFlight("s1"))
}

func TestConcurrentShotsSettleIndependently(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gateA := f.gen.gate("vault exterior")
	gateB := f.gen.gate("hands on the dial")

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	_, err = f.ctrl.RequestImageGeneration("s2")
	require.NoError(t, err)

	gateB <- nil
	require.Eventually(t, func() bool {
		s, err := f.store.Shot("s2")
		return err == nil && s.Status == models.ShotStatusCompleted
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.ShotStatusGenerating, f.shot(t, "s1").Status)
	assert.Equal(t, models.ShotStatusError, f.shot(t, "s3").Status)

	gateA <- nil
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusCompleted, f.shot(t, "s1").Status)
	assert.NotEqual(t, f.shot(t, "s1").ImageURL, f.shot(t, "s2").ImageURL)
}

func TestFailureKeepsExistingImage(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	before := f.shot(t, "s2").ImageURL
	f.gen.err = models.ErrGenerationFailure

	_, err := f.ctrl.RequestImageGeneration("s2")
	require.NoError(t, err)
	f.dispatcher.Wait()

	got := f.shot(t, "s2")
	assert.Equal(t, models.ShotStatusError, got.Status)
	assert.Equal(t, before, got.ImageURL)
	assert.True(t, f.ctrl.Authorized())
}

func TestSingleFlightPerShot(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gate := f.gen.gate("hands on the dial")

	_, err := f.ctrl.RequestImageGeneration("s2")
	require.NoError(t, err)

	_, err = f.ctrl.RequestImageGeneration("s2")
	assert.ErrorIs(t, err, models.ErrShotBusy)
	_, err = f.ctrl.RequestImageEdit("s2", "add rain")
	assert.ErrorIs(t, err, models.ErrShotBusy)
	_, err = f.ctrl.RequestAnimation("s2", "", "")
	assert.ErrorIs(t, err, models.ErrShotBusy)
	assert.True(t, f.ctrl.InFlight("s2"))

	gate <- nil
	f.dispatcher.Wait()
	assert.Equal(t, 1, f.gen.count("image"))
	assert.Equal(t, 0, f.gen.count("edit"))
	assert.Equal(t, 0, f.gen.count("animate"))
}

func TestEditAndRevert(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	original := f.shot(t, "s2").ImageURL

	_, err := f.ctrl.RequestImageEdit("s2", "add rain")
	require.NoError(t, err)
	f.dispatcher.Wait()

	edited := f.shot(t, "s2")
	assert.Equal(t, models.ShotStatusCompleted, edited.Status)
	assert.Equal(t, original, edited.PreviousImageURL)
	art, err := models.ParseDataURI(edited.ImageURL)
	require.NoError(t, err)
	assert.Equal(t, "s2-original+add rain", string(art.Data))

	reverted, err := f.ctrl.RevertImage("s2")
	require.NoError(t, err)
	assert.Equal(t, original, reverted.ImageURL)
}

func TestEditValidation(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())

	_, err := f.ctrl.RequestImageEdit("s1", "add rain")
	assert.ErrorIs(t, err, models.ErrPreconditionFailed)
	_, err = f.ctrl.RequestImageEdit("s2", "")
	assert.ErrorIs(t, err, models.ErrInvalidField)
	_, err = f.ctrl.RequestImageGeneration("missing")
	assert.ErrorIs(t, err, models.ErrShotNotFound)
	assert.Equal(t, models.ShotStatusIdle, f.shot(t, "s1").Status)
}

func TestAnimation(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())

	_, err := f.ctrl.RequestAnimation("s1", "pan", models.AspectRatio16x9)
	assert.ErrorIs(t, err, models.ErrPreconditionFailed)
	_, err = f.ctrl.RequestAnimation("s3", "pan", models.AspectRatio16x9)
	assert.ErrorIs(t, err, models.ErrPreconditionFailed)
	_, err = f.ctrl.RequestAnimation("s2", "pan", models.AspectRatio4x3)
	assert.ErrorIs(t, err, models.ErrInvalidField)
	assert.Equal(t, 0, f.gen.count("animate"))

	shot, err := f.ctrl.RequestAnimation("s2", "slow push in", "")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusAnimating, shot.Status)
	f.dispatcher.Wait()

	got := f.shot(t, "s2")
	assert.Equal(t, models.ShotStatusCompleted, got.Status)
	assert.NotEmpty(t, got.VideoURL)
	assert.NotEmpty(t, got.ImageURL)
}

func TestAuthorizationGate(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	f.gen.err = models.ErrAuthorizationMissing

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusError, f.shot(t, "s1").Status)
	assert.False(t, f.ctrl.Authorized())

	_, err = f.ctrl.RequestImageGeneration("s1")
	assert.ErrorIs(t, err, models.ErrAuthorizationMissing)
	_, err = f.ctrl.GenerateStoryboard(t.Context(), "a heist", models.LanguageEnglish)
	assert.ErrorIs(t, err, models.ErrAuthorizationMissing)
	assert.Equal(t, 1, f.gen.count("image"))
	assert.Equal(t, 0, f.gen.count("storyboard"))

	assert.ErrorIs(t, f.ctrl.UpdateCredentials(""), models.ErrInvalidField)
	require.NoError(t, f.ctrl.UpdateCredentials("fresh"))
	assert.True(t, f.ctrl.Authorized())
	assert.Equal(t, []string{"fresh"}, f.gen.keys)

	_, err = f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusCompleted, f.shot(t, "s1").Status)
}

func TestStaleResultIsDiscarded(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gate := f.gen.gate("vault exterior")

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)

	// 新脚本里恰好有同 id 的分镜
	f.store.ReplaceScript(heistScript())
	gate <- nil
	f.dispatcher.Wait()

	got := f.shot(t, "s1")
	assert.Equal(t, models.ShotStatusIdle, got.Status)
	assert.Empty(t, got.ImageURL)
	assert.False(t, f.ctrl.InFlight("s1"))
}

func TestLoadProjectResetsInFlightShots(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gate := f.gen.gate("vault exterior")

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	saved, err := f.store.SaveActiveProject(t.Context())
	require.NoError(t, err)

	st, err := f.ctrl.LoadProject(t.Context(), saved.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusError, st.Script.Shots[0].Status)

	gate <- nil
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusError, f.shot(t, "s1").Status)

	_, err = f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusCompleted, f.shot(t, "s1").Status)
}

func TestPanicSettlesToError(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	f.gen.panicOn = "vault exterior"

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusError, f.shot(t, "s1").Status)
	assert.False(t, f.ctrl.InFlight("s1"))
}

type failingDispatcher struct{}

func (failingDispatcher) Dispatch(models.Job) error { return assert.AnError }

func TestDispatchFailureSettlesToError(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	f.ctrl.UseDispatcher(failingDispatcher{})

	_, err := f.ctrl.RequestImageGeneration("s2")
	assert.ErrorIs(t, err, models.ErrGenerationFailure)
	got := f.shot(t, "s2")
	assert.Equal(t, models.ShotStatusError, got.Status)
	assert.NotEmpty(t, got.ImageURL)
	assert.False(t, f.ctrl.InFlight("s2"))
}

func TestContextFixedAtDispatch(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	char, err := f.store.AddCharacter(t.Context(), models.CharacterProfile{Name: "Mara", VisualTraits: []string{"scar over left eye"}})
	require.NoError(t, err)
	_, err = f.ctrl.AssignCharacter("s1", char.ID)
	require.NoError(t, err)
	gate := f.gen.gate("vault exterior")

	_, err = f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	_, err = f.store.UpdateCharacter(t.Context(), char.ID, models.CharacterUpdate{
		Field: models.CharacterFieldVisualTraits, Traits: []string{"no scar"},
	})
	require.NoError(t, err)
	gate <- nil
	f.dispatcher.Wait()

	assert.Contains(t, directiveText(f.gen.lastImage), "scar over left eye")
	assert.NotContains(t, directiveText(f.gen.lastImage), "no scar")
}

func shotIDs(shots []models.Shot) []string {
	ids := make([]string, len(shots))
	for i, s := range shots {
		ids[i] = s.ID
	}
	return ids
}

func TestReorderKeepsSequenceContiguous(t *testing.T) {
	f := newStudio(t)
	script := models.StoryboardScript{Title: "Long"}
	for _, id := range []string{"a", "b", "c", "d", "e", "f"} {
		script.Shots = append(script.Shots, models.Shot{ID: id, Status: models.ShotStatusIdle})
	}
	f.store.ReplaceScript(script)

	rng := rand.New(rand.NewSource(42))
	ids := shotIDs(script.Shots)
	for i := 0; i < 200; i++ {
		dragged := ids[rng.Intn(len(ids))]
		target := ids[rng.Intn(len(ids))]
		shots, moved, err := f.ctrl.Reorder(dragged, target)
		require.NoError(t, err)
		assert.Equal(t, dragged != target, moved)
		for j, s := range shots {
			assert.Equal(t, j+1, s.SequenceNumber)
		}
		got := shotIDs(shots)
		sorted := append([]string(nil), got...)
		sort.Strings(sorted)
		assert.Equal(t, []string{"a", "b", "c", "d", "e", "f"}, sorted)
	}

	shots, moved, err := f.ctrl.Reorder("a", "missing")
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Len(t, shots, 6)
}

func TestReorderDuringGeneration(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gate := f.gen.gate("vault exterior")

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	shots, moved, err := f.ctrl.Reorder("s1", "s3")
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, []string{"s2", "s3", "s1"}, shotIDs(shots))

	gate <- nil
	f.dispatcher.Wait()
	got := f.shot(t, "s1")
	assert.Equal(t, models.ShotStatusCompleted, got.Status)
	assert.Equal(t, 3, got.SequenceNumber)
}

func TestAssignments(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	item, err := f.store.AddItem(t.Context(), models.KeyItem{Name: "Brass key", Description: "old and worn"})
	require.NoError(t, err)

	_, err = f.ctrl.AssignCharacter("s1", "ghost")
	assert.ErrorIs(t, err, models.ErrCharacterNotFound)
	_, err = f.ctrl.AssignItems("s1", []string{"ghost"})
	assert.ErrorIs(t, err, models.ErrItemNotFound)

	shot, err := f.ctrl.AssignItems("s1", []string{item.ID, item.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{item.ID}, shot.AssignedItemIDs)

	shot, err = f.ctrl.SetBaseReferenceImage("s1", "data:image/png;base64,AA==")
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AA==", shot.BaseReferenceImage)

	disabled := newStudio(t, service.WithFeatures(service.Features{GlobalVault: true}))
	disabled.store.ReplaceScript(heistScript())
	_, err = disabled.ctrl.AssignItems("s1", nil)
	assert.ErrorIs(t, err, models.ErrFeatureDisabled)
}

func TestEventsPublished(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	ch, unsubscribe := f.events.Subscribe(16)
	defer unsubscribe()

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	f.dispatcher.Wait()

	first := <-ch
	second := <-ch
	assert.Equal(t, service.EventShotUpdated, first.Type)
	assert.Equal(t, models.ShotStatusGenerating, first.Shot.Status)
	assert.Equal(t, models.ShotStatusCompleted, second.Shot.Status)
}

func TestScriptWithoutStatusStartsIdle(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(models.StoryboardScript{
		Title: "Bare",
		Shots: []models.Shot{{ID: "a", VisualPrompt: "empty station"}},
	})
	assert.Equal(t, models.ShotStatusIdle, f.shot(t, "a").Status)

	shot, err := f.ctrl.RequestImageGeneration("a")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusGenerating, shot.Status)
	f.dispatcher.Wait()
	assert.Equal(t, models.ShotStatusCompleted, f.shot(t, "a").Status)
}

func TestSavedProjectWithoutStatusCanGenerate(t *testing.T) {
	ctx := t.Context()
	slots := service.NewMemorySlotStore(0)
	slots.Raw(service.SlotProjects, []byte(`[{"id":"p1","script":{"title":"Old","shots":[{"id":"a","visualPrompt":"rain on glass"}]},`+
		`"formatSettings":{"aspectRatio":"16:9","imageSize":"1K","visualStyle":"cinematic"}}]`))
	store := service.NewStore(slots)
	store.LoadAll(ctx)
	ctrl := service.NewController(store, newFakeGen(), nil)
	d := service.NewInlineDispatcher(ctx, ctrl.Execute)
	ctrl.UseDispatcher(d)

	st, err := ctrl.LoadProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, st.Script.Shots, 1)
	assert.Equal(t, models.ShotStatusIdle, st.Script.Shots[0].Status)

	shot, err := ctrl.RequestImageGeneration("a")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusGenerating, shot.Status)
	d.Wait()
	got, err := store.Shot("a")
	require.NoError(t, err)
	assert.Equal(t, models.ShotStatusCompleted, got.Status)
}

func TestReloadSameProjectDiscardsLateResult(t *testing.T) {
	f := newStudio(t)
	f.store.ReplaceScript(heistScript())
	gate := f.gen.gate("vault exterior")

	_, err := f.ctrl.RequestImageGeneration("s1")
	require.NoError(t, err)
	saved, err := f.store.SaveActiveProject(t.Context())
	require.NoError(t, err)
	require.Equal(t, saved.ID, f.store.Snapshot().ProjectID)

	_, err = f.ctrl.LoadProject(t.Context(), saved.ID)
	require.NoError(t, err)
	assert.False(t, f.ctrl.InFlight("s1"))

	gate <- nil
	f.dispatcher.Wait()
	got := f.shot(t, "s1")
	assert.Equal(t, models.ShotStatusError, got.Status)
	assert.Empty(t, got.ImageURL)
	assert.Equal(t, saved.ID, f.store.Snapshot().ProjectID)
	assert.False(t, f.ctrl.InFlight("s1"))
}

func TestReorderForwardLandsAfterTarget(t *testing.T) {
	f := newStudio(t)
	script := models.StoryboardScript{Title: "Four"}
	for _, id := range []string{"a", "b", "c", "d"} {
		script.Shots = append(script.Shots, models.Shot{ID: id})
	}
	f.store.ReplaceScript(script)

	shots, moved, err := f.ctrl.Reorder("a", "c")
	require.NoError(t, err)
	require.True(t, moved)
	assert.Equal(t, []string{"b", "c", "a", "d"}, shotIDs(shots))

	shots, _, err = f.ctrl.Reorder("d", "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "b", "c", "a"}, shotIDs(shots))
}
