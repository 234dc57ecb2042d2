package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"StoryboardStudio-server/models"
	"StoryboardStudio-server/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveWithoutScript(t *testing.T) {
	s := service.NewStore(service.NewMemorySlotStore(0))
	_, err := s.SaveActiveProject(context.Background())
	assert.ErrorIs(t, err, models.ErrNoActiveScript)
	assert.Empty(t, s.SavedProjects())
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	slots := service.NewMemorySlotStore(0)
	s := service.NewStore(slots)

	mara, err := s.AddCharacter(ctx, models.CharacterProfile{Name: "Mara", VisualTraits: []string{"grey coat"}})
	require.NoError(t, err)
	require.NoError(t, s.SetReferenceImages([]string{"ref-a", "ref-b"}))
	require.NoError(t, s.SetFormat(models.FormatSettings{AspectRatio: models.AspectRatio9x16, ImageSize: models.ImageSize2K, VisualStyle: "noir"}))
	s.ReplaceScript(heistScript())

	saved, err := s.SaveActiveProject(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, s.Snapshot().ProjectID)
	assert.Len(t, saved.Script.CharacterRoster, 1)

	// 切到新项目，角色被删掉后再加载旧项目，角色恢复
	s.NewProject()
	require.NoError(t, s.RemoveCharacter(ctx, mara.ID))
	require.NoError(t, s.SetReferenceImages(nil))

	st, err := s.LoadProject(ctx, saved.ID)
	require.NoError(t, err)
	require.NotNil(t, st.Script)
	assert.Equal(t, "The Heist", st.Script.Title)
	assert.Equal(t, []string{"ref-a", "ref-b"}, st.ReferenceImages)
	assert.Equal(t, models.AspectRatio9x16, st.Format.AspectRatio)
	require.Len(t, st.Characters, 1)
	assert.Equal(t, "Mara", st.Characters[0].Name)
	assert.Nil(t, st.Script.CharacterRoster)

	// 加载同时写穿当前角色槽位
	raw, ok, err := slots.Get(ctx, service.SlotCharacterRoster)
	require.NoError(t, err)
	require.True(t, ok)
	var roster []models.CharacterProfile
	require.NoError(t, json.Unmarshal(raw, &roster))
	assert.Len(t, roster, 1)

	// 新的 Store 从同一槽位恢复
	fresh := service.NewStore(slots)
	fresh.LoadAll(ctx)
	require.Len(t, fresh.SavedProjects(), 1)
	assert.Equal(t, 3, fresh.SavedProjects()[0].ShotCount)
}

func TestSavedProjectsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(0))

	for _, title := range []string{"one", "two", "three"} {
		sc := heistScript()
		sc.Title = title
		require.NoError(t, s.UpsertProject(ctx, models.SavedProject{ID: title, Script: sc}))
	}
	sc := heistScript()
	sc.Title = "one again"
	require.NoError(t, s.UpsertProject(ctx, models.SavedProject{ID: "one", Script: sc}))

	var ids []string
	for _, p := range s.SavedProjects() {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"one", "three", "two"}, ids)
	p, ok := s.Project("one")
	require.True(t, ok)
	assert.Equal(t, "one again", p.Script.Title)
}

func TestDeleteProject(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(0))
	require.NoError(t, s.UpsertProject(ctx, models.SavedProject{ID: "p1", Script: heistScript()}))

	require.NoError(t, s.DeleteProject(ctx, "missing"))
	assert.Len(t, s.SavedProjects(), 1)

	require.NoError(t, s.DeleteProject(ctx, "p1"))
	assert.Empty(t, s.SavedProjects())

	_, err := s.LoadProject(ctx, "p1")
	assert.ErrorIs(t, err, models.ErrProjectNotFound)
}

func TestLoadAllToleratesCorruptSlot(t *testing.T) {
	ctx := context.Background()
	slots := service.NewMemorySlotStore(0)
	slots.Raw(service.SlotProjects, []byte("{not json"))
	chars, _ := json.Marshal([]models.CharacterProfile{{ID: "c1", Name: "Mara"}})
	slots.Raw(service.SlotCharacterRoster, chars)

	s := service.NewStore(slots)
	s.LoadAll(ctx)
	assert.Empty(t, s.SavedProjects())
	st := s.Snapshot()
	require.Len(t, st.Characters, 1)
	assert.Equal(t, "Mara", st.Characters[0].Name)
}

func TestQuotaFailureKeepsSavedList(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(4096))

	s.ReplaceScript(heistScript())
	first, err := s.SaveActiveProject(ctx)
	require.NoError(t, err)

	s.ReplaceScript(heistScript())
	require.NoError(t, s.SetReferenceImages([]string{strings.Repeat("x", 8192)}))
	_, err = s.SaveActiveProject(ctx)
	assert.ErrorIs(t, err, models.ErrStorageQuotaExceeded)

	list := s.SavedProjects()
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)
	assert.NotEqual(t, first.ID, s.Snapshot().ProjectID)
}

func TestTooManyReferences(t *testing.T) {
	s := service.NewStore(service.NewMemorySlotStore(0))
	require.NoError(t, s.SetReferenceImages([]string{"a", "b", "c"}))
	err := s.SetReferenceImages([]string{"a", "b", "c", "d"})
	assert.ErrorIs(t, err, models.ErrTooManyReferences)
	assert.Len(t, s.Snapshot().ReferenceImages, 3)
}

func TestInvalidFormat(t *testing.T) {
	s := service.NewStore(service.NewMemorySlotStore(0))
	err := s.SetFormat(models.FormatSettings{AspectRatio: "5:4", ImageSize: models.ImageSize1K, VisualStyle: "noir"})
	assert.ErrorIs(t, err, models.ErrInvalidField)
	assert.Equal(t, models.DefaultFormatSettings(), s.Snapshot().Format)
}

func TestLibraryCopiesAreIndependent(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(0))

	mara, err := s.AddCharacter(ctx, models.CharacterProfile{Name: "Mara", VisualTraits: []string{"grey coat"}})
	require.NoError(t, err)
	entry, err := s.SaveCharacterToLibrary(ctx, mara.ID)
	require.NoError(t, err)
	assert.True(t, entry.IsGlobal)

	// 修改项目内角色不影响资源库
	_, err = s.UpdateCharacter(ctx, mara.ID, models.CharacterUpdate{Field: models.CharacterFieldVisualTraits, Traits: []string{"red scarf"}})
	require.NoError(t, err)
	chars, _ := s.GlobalLibrary()
	require.Len(t, chars, 1)
	assert.Equal(t, []string{"grey coat"}, chars[0].VisualTraits)

	// 已在项目中时导入不重复
	_, err = s.ImportCharacter(ctx, mara.ID)
	require.NoError(t, err)
	assert.Len(t, s.Snapshot().Characters, 1)

	require.NoError(t, s.RemoveCharacter(ctx, mara.ID))
	imported, err := s.ImportCharacter(ctx, mara.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"grey coat"}, imported.VisualTraits)
	assert.Len(t, s.Snapshot().Characters, 1)

	_, err = s.ImportCharacter(ctx, "nobody")
	assert.ErrorIs(t, err, models.ErrCharacterNotFound)
}

func TestSearchAndDeleteLibrary(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(0))
	c1, _ := s.AddCharacter(ctx, models.CharacterProfile{Name: "Mara", Summary: "a safecracker"})
	c2, _ := s.AddCharacter(ctx, models.CharacterProfile{Name: "Otto", Summary: "the driver"})
	it, _ := s.AddItem(ctx, models.KeyItem{Name: "Brass Key", Description: "opens the safe"})
	for _, id := range []string{c1.ID, c2.ID} {
		_, err := s.SaveCharacterToLibrary(ctx, id)
		require.NoError(t, err)
	}
	_, err := s.SaveItemToLibrary(ctx, it.ID)
	require.NoError(t, err)

	chars, items := s.SearchLibrary("SAFE")
	require.Len(t, chars, 1)
	assert.Equal(t, "Mara", chars[0].Name)
	assert.Len(t, items, 1)

	all, _ := s.SearchLibrary("  ")
	assert.Len(t, all, 2)

	require.NoError(t, s.DeleteFromLibrary(ctx, []string{c1.ID, "missing"}, []string{it.ID}))
	chars, items = s.GlobalLibrary()
	require.Len(t, chars, 1)
	assert.Equal(t, "Otto", chars[0].Name)
	assert.Empty(t, items)
}

func TestCharacterAndItemNotFound(t *testing.T) {
	ctx := context.Background()
	s := service.NewStore(service.NewMemorySlotStore(0))
	_, err := s.UpdateCharacter(ctx, "x", models.CharacterUpdate{Field: models.CharacterFieldName, Value: "y"})
	assert.ErrorIs(t, err, models.ErrCharacterNotFound)
	assert.ErrorIs(t, s.RemoveItem(ctx, "x"), models.ErrItemNotFound)
	_, err = s.UpdateItem(ctx, "x", models.ItemUpdate{Field: models.ItemFieldName, Value: "y"})
	assert.ErrorIs(t, err, models.ErrItemNotFound)
}
