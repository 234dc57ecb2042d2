package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"StoryboardStudio-server/logger"
	"StoryboardStudio-server/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ProjectState 当前正在编辑的项目，所有修改都经过 Store
type ProjectState struct {
	ProjectID       string                    `json:"projectId,omitempty"`
	Epoch           uint64                    `json:"epoch"`
	Script          *models.StoryboardScript  `json:"script,omitempty"`
	Format          models.FormatSettings     `json:"formatSettings"`
	ReferenceImages []string                  `json:"referenceImages"`
	Characters      []models.CharacterProfile `json:"characters"`
	Items           []models.KeyItem          `json:"items"`
}

func (s ProjectState) Clone() ProjectState {
	out := s
	if s.Script != nil {
		script := s.Script.Clone()
		out.Script = &script
	}
	if s.ReferenceImages != nil {
		out.ReferenceImages = append([]string(nil), s.ReferenceImages...)
	}
	out.Characters = models.CloneCharacters(s.Characters)
	out.Items = models.CloneItems(s.Items)
	return out
}

func (s ProjectState) Character(id string) (models.CharacterProfile, bool) {
	for _, c := range s.Characters {
		if c.ID == id {
			return c, true
		}
	}
	return models.CharacterProfile{}, false
}

func (s ProjectState) Item(id string) (models.KeyItem, bool) {
	for _, it := range s.Items {
		if it.ID == id {
			return it, true
		}
	}
	return models.KeyItem{}, false
}

func (s ProjectState) shotIndex(id string) int {
	if s.Script == nil {
		return -1
	}
	for i := range s.Script.Shots {
		if s.Script.Shots[i].ID == id {
			return i
		}
	}
	return -1
}

// Store 活动项目的唯一数据源，同时负责项目列表、角色/物品库的持久化
type Store struct {
	mu    sync.RWMutex
	slots SlotStore
	log   *logrus.Entry
	now   func() time.Time

	state            ProjectState
	saved            []models.SavedProject
	globalCharacters []models.CharacterProfile
	globalItems      []models.KeyItem
}

func NewStore(slots SlotStore) *Store {
	return &Store{
		slots: slots,
		log:   logger.Get("store"),
		now:   time.Now,
		state: ProjectState{Epoch: 1, Format: models.DefaultFormatSettings()},
	}
}

// LoadAll 启动时恢复持久化数据；缺失或损坏的槽位按空集合处理，不向调用方报错
func (s *Store) LoadAll(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var projects []models.SavedProject
	if !s.readSlot(ctx, SlotProjects, &projects) {
		projects = nil
	}
	var chars []models.CharacterProfile
	if !s.readSlot(ctx, SlotCharacterRoster, &chars) {
		chars = nil
	}
	var items []models.KeyItem
	if !s.readSlot(ctx, SlotItemRoster, &items) {
		items = nil
	}
	var globalChars []models.CharacterProfile
	if !s.readSlot(ctx, SlotGlobalCharacters, &globalChars) {
		globalChars = nil
	}
	var globalItems []models.KeyItem
	if !s.readSlot(ctx, SlotGlobalItems, &globalItems) {
		globalItems = nil
	}

	for i := range projects {
		models.NormalizeShots(projects[i].Script.Shots)
	}
	s.saved = projects
	s.state.Characters = chars
	s.state.Items = items
	s.globalCharacters = globalChars
	s.globalItems = globalItems
	s.log.WithFields(logrus.Fields{
		"projects":          len(projects),
		"characters":        len(chars),
		"items":             len(items),
		"global_characters": len(globalChars),
		"global_items":      len(globalItems),
	}).Info("持久化数据已恢复")
}

func (s *Store) readSlot(ctx context.Context, slot string, dst interface{}) bool {
	raw, ok, err := s.slots.Get(ctx, slot)
	if err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("读取槽位失败，使用空集合")
		return false
	}
	if !ok || len(raw) == 0 {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		s.log.WithError(err).WithField("slot", slot).Warn("槽位数据损坏，使用空集合")
		return false
	}
	return true
}

func (s *Store) writeSlot(ctx context.Context, slot string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal slot %s: %w", slot, err)
	}
	if err := s.slots.Put(ctx, slot, b); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"slot": slot, "bytes": len(b)}).Error("写入槽位失败")
		return err
	}
	return nil
}

// PersistCharacterRoster 只写持久化，不改内存状态
func (s *Store) PersistCharacterRoster(ctx context.Context, chars []models.CharacterProfile) error {
	return s.writeSlot(ctx, SlotCharacterRoster, chars)
}

func (s *Store) PersistItemRoster(ctx context.Context, items []models.KeyItem) error {
	return s.writeSlot(ctx, SlotItemRoster, items)
}

// PersistGlobalLibraries 两个槽位一起写；第二个失败时恢复第一个
func (s *Store) PersistGlobalLibraries(ctx context.Context, chars []models.CharacterProfile, items []models.KeyItem) error {
	prev, hadPrev, err := s.slots.Get(ctx, SlotGlobalCharacters)
	if err != nil {
		return fmt.Errorf("read slot %s: %w", SlotGlobalCharacters, err)
	}
	if err := s.writeSlot(ctx, SlotGlobalCharacters, chars); err != nil {
		return err
	}
	if err := s.writeSlot(ctx, SlotGlobalItems, items); err != nil {
		if hadPrev {
			if rbErr := s.slots.Put(ctx, SlotGlobalCharacters, prev); rbErr != nil {
				s.log.WithError(rbErr).Error("恢复全局角色库失败")
			}
		}
		return err
	}
	return nil
}

func (s *Store) persistRostersLocked(ctx context.Context) error {
	return errors.Join(
		s.PersistCharacterRoster(ctx, s.state.Characters),
		s.PersistItemRoster(ctx, s.state.Items),
	)
}

func (s *Store) Snapshot() ProjectState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// ---------------------------------------------------------------------------
// 项目列表
// ---------------------------------------------------------------------------

func (s *Store) SavedProjects() []models.ProjectSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.ProjectSummary, 0, len(s.saved))
	for _, p := range s.saved {
		out = append(out, p.Summary())
	}
	return out
}

func (s *Store) Project(id string) (models.SavedProject, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.saved {
		if p.ID == id {
			return p.Clone(), true
		}
	}
	return models.SavedProject{}, false
}

// UpsertProject 按 id 插入或替换，保存的项目移到列表最前
func (s *Store) UpsertProject(ctx context.Context, p models.SavedProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ctx, p)
}

func (s *Store) upsertLocked(ctx context.Context, p models.SavedProject) error {
	next := make([]models.SavedProject, 0, len(s.saved)+1)
	next = append(next, p.Clone())
	for _, sp := range s.saved {
		if sp.ID != p.ID {
			next = append(next, sp)
		}
	}
	if err := s.writeSlot(ctx, SlotProjects, next); err != nil {
		return err
	}
	s.saved = next
	return nil
}

// DeleteProject id 不存在时什么也不做
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, p := range s.saved {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	next := make([]models.SavedProject, 0, len(s.saved)-1)
	next = append(next, s.saved[:idx]...)
	next = append(next, s.saved[idx+1:]...)
	if err := s.writeSlot(ctx, SlotProjects, next); err != nil {
		return err
	}
	s.saved = next
	return nil
}

// SaveActiveProject 把当前项目连同角色、物品、参考图快照一起保存
func (s *Store) SaveActiveProject(ctx context.Context) (models.SavedProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Script == nil {
		return models.SavedProject{}, models.ErrNoActiveScript
	}
	id := s.state.ProjectID
	if id == "" {
		id = uuid.NewString()
	}
	script := s.state.Script.Clone()
	script.CharacterRoster = models.CloneCharacters(s.state.Characters)
	script.ItemRoster = models.CloneItems(s.state.Items)
	script.ReferenceImages = append([]string(nil), s.state.ReferenceImages...)
	p := models.SavedProject{
		ID:             id,
		SavedAt:        s.now(),
		Script:         script,
		FormatSettings: s.state.Format,
	}
	if err := s.upsertLocked(ctx, p); err != nil {
		return models.SavedProject{}, err
	}
	s.state.ProjectID = id
	s.log.WithFields(logrus.Fields{"project_id": id, "shots": len(script.Shots)}).Info("项目已保存")
	return p.Clone(), nil
}

// LoadProject 切换到已保存的项目。保存时仍在生成的分镜不会再收到结果，置为 error
func (s *Store) LoadProject(ctx context.Context, id string) (ProjectState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var found *models.SavedProject
	for i := range s.saved {
		if s.saved[i].ID == id {
			found = &s.saved[i]
			break
		}
	}
	if found == nil {
		return ProjectState{}, fmt.Errorf("%w: %s", models.ErrProjectNotFound, id)
	}

	script := found.Script.Clone()
	chars := script.CharacterRoster
	items := script.ItemRoster
	refs := script.ReferenceImages
	script.CharacterRoster, script.ItemRoster, script.ReferenceImages = nil, nil, nil
	for i := range script.Shots {
		if script.Shots[i].Status.InFlight() {
			script.Shots[i].Fail()
		}
	}
	models.NormalizeShots(script.Shots)

	s.state = ProjectState{
		ProjectID:       found.ID,
		Epoch:           s.state.Epoch + 1,
		Script:          &script,
		Format:          found.FormatSettings,
		ReferenceImages: refs,
		Characters:      chars,
		Items:           items,
	}
	err := s.persistRostersLocked(ctx)
	return s.state.Clone(), err
}

// NewProject 清空当前分镜，保留角色、物品和画面设置
func (s *Store) NewProject() ProjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ProjectID = ""
	s.state.Script = nil
	s.state.ReferenceImages = nil
	s.state.Epoch++
	return s.state.Clone()
}

// ReplaceScript 新生成的分镜脚本成为当前项目（新的项目 id）
func (s *Store) ReplaceScript(script models.StoryboardScript) ProjectState {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := script.Clone()
	next.CharacterRoster, next.ItemRoster, next.ReferenceImages = nil, nil, nil
	models.NormalizeShots(next.Shots)
	s.state.ProjectID = uuid.NewString()
	s.state.Script = &next
	s.state.Epoch++
	return s.state.Clone()
}

// ---------------------------------------------------------------------------
// 项目设置
// ---------------------------------------------------------------------------

func (s *Store) SetFormat(fs models.FormatSettings) error {
	if err := models.Validate(fs); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidField, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Format = fs
	return nil
}

func (s *Store) SetReferenceImages(refs []string) error {
	if len(refs) > models.MaxReferenceImages {
		return fmt.Errorf("%w: %d > %d", models.ErrTooManyReferences, len(refs), models.MaxReferenceImages)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ReferenceImages = append([]string(nil), refs...)
	return nil
}

// ---------------------------------------------------------------------------
// 分镜（仅供 Controller 使用）
// ---------------------------------------------------------------------------

func (s *Store) Shot(id string) (models.Shot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.state.shotIndex(id)
	if idx < 0 {
		return models.Shot{}, fmt.Errorf("%w: %s", models.ErrShotNotFound, id)
	}
	return s.state.Script.Shots[idx].Clone(), nil
}

// editShot 在锁内修改当前项目的一个分镜；fn 返回错误时不写回
func (s *Store) editShot(id string, fn func(st ProjectState, shot *models.Shot) error) (models.Shot, uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shot, err := s.applyShotLocked(id, func(shot *models.Shot) error { return fn(s.state, shot) })
	return shot, s.state.Epoch, err
}

// settleShot 写回异步结果；项目已切换或分镜已删除时返回错误
func (s *Store) settleShot(epoch uint64, id string, fn func(shot *models.Shot) error) (models.Shot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.state.Epoch {
		return models.Shot{}, fmt.Errorf("%w: epoch %d, active %d", models.ErrStaleResult, epoch, s.state.Epoch)
	}
	return s.applyShotLocked(id, fn)
}

func (s *Store) applyShotLocked(id string, fn func(shot *models.Shot) error) (models.Shot, error) {
	if s.state.Script == nil {
		return models.Shot{}, models.ErrNoActiveScript
	}
	idx := s.state.shotIndex(id)
	if idx < 0 {
		return models.Shot{}, fmt.Errorf("%w: %s", models.ErrShotNotFound, id)
	}
	working := s.state.Script.Shots[idx].Clone()
	if err := fn(&working); err != nil {
		return models.Shot{}, err
	}
	s.state.Script.Shots[idx] = working
	return working.Clone(), nil
}

// reorderShots 把 dragged 移到 target 的位置并整体重新编号
func (s *Store) reorderShots(draggedID, targetID string) ([]models.Shot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Script == nil {
		return nil, false, models.ErrNoActiveScript
	}
	from, to := s.state.shotIndex(draggedID), s.state.shotIndex(targetID)
	if draggedID == targetID || from < 0 || to < 0 {
		return s.state.Clone().Script.Shots, false, nil
	}
	shots := s.state.Script.Shots
	moved := shots[from]
	shots = append(shots[:from], shots[from+1:]...)
	shots = append(shots[:to], append([]models.Shot{moved}, shots[to:]...)...)
	models.Renumber(shots)
	s.state.Script.Shots = shots
	return s.state.Clone().Script.Shots, true, nil
}

// ---------------------------------------------------------------------------
// 角色 / 物品（写穿持久化）
// ---------------------------------------------------------------------------

func (s *Store) characterIndex(id string) int {
	for i := range s.state.Characters {
		if s.state.Characters[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) itemIndex(id string) int {
	for i := range s.state.Items {
		if s.state.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) AddCharacter(ctx context.Context, c models.CharacterProfile) (models.CharacterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	c = c.Clone()
	s.state.Characters = append(s.state.Characters, c)
	return c.Clone(), s.PersistCharacterRoster(ctx, s.state.Characters)
}

func (s *Store) UpdateCharacter(ctx context.Context, id string, u models.CharacterUpdate) (models.CharacterProfile, error) {
	return s.mutateCharacter(ctx, id, func(c *models.CharacterProfile) error { return c.Apply(u) })
}

// SetCharacterReference 新参考图生效，旧图进入历史
func (s *Store) SetCharacterReference(ctx context.Context, id, url string) (models.CharacterProfile, error) {
	return s.mutateCharacter(ctx, id, func(c *models.CharacterProfile) error {
		c.PushReference(url)
		return nil
	})
}

func (s *Store) SelectAlternateImage(ctx context.Context, id string, index int) (models.CharacterProfile, error) {
	return s.mutateCharacter(ctx, id, func(c *models.CharacterProfile) error { return c.SelectAlternate(index) })
}

func (s *Store) mutateCharacter(ctx context.Context, id string, fn func(c *models.CharacterProfile) error) (models.CharacterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.characterIndex(id)
	if idx < 0 {
		return models.CharacterProfile{}, fmt.Errorf("%w: %s", models.ErrCharacterNotFound, id)
	}
	working := s.state.Characters[idx].Clone()
	if err := fn(&working); err != nil {
		return models.CharacterProfile{}, err
	}
	s.state.Characters[idx] = working
	return working.Clone(), s.PersistCharacterRoster(ctx, s.state.Characters)
}

func (s *Store) RemoveCharacter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.characterIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrCharacterNotFound, id)
	}
	s.state.Characters = append(s.state.Characters[:idx:idx], s.state.Characters[idx+1:]...)
	return s.PersistCharacterRoster(ctx, s.state.Characters)
}

func (s *Store) AddItem(ctx context.Context, it models.KeyItem) (models.KeyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	s.state.Items = append(s.state.Items, it)
	return it, s.PersistItemRoster(ctx, s.state.Items)
}

func (s *Store) UpdateItem(ctx context.Context, id string, u models.ItemUpdate) (models.KeyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.itemIndex(id)
	if idx < 0 {
		return models.KeyItem{}, fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
	}
	working := s.state.Items[idx]
	if err := working.Apply(u); err != nil {
		return models.KeyItem{}, err
	}
	s.state.Items[idx] = working
	return working, s.PersistItemRoster(ctx, s.state.Items)
}

func (s *Store) RemoveItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.itemIndex(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
	}
	s.state.Items = append(s.state.Items[:idx:idx], s.state.Items[idx+1:]...)
	return s.PersistItemRoster(ctx, s.state.Items)
}

// ---------------------------------------------------------------------------
// 全局资源库
// ---------------------------------------------------------------------------

func (s *Store) GlobalLibrary() ([]models.CharacterProfile, []models.KeyItem) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.CloneCharacters(s.globalCharacters), models.CloneItems(s.globalItems)
}

// SearchLibrary 名称或描述包含关键字（不区分大小写）；空关键字返回全部
func (s *Store) SearchLibrary(query string) ([]models.CharacterProfile, []models.KeyItem) {
	chars, items := s.GlobalLibrary()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return chars, items
	}
	var outChars []models.CharacterProfile
	for _, c := range chars {
		if strings.Contains(strings.ToLower(c.Name), q) || strings.Contains(strings.ToLower(c.Summary), q) {
			outChars = append(outChars, c)
		}
	}
	var outItems []models.KeyItem
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.Name), q) || strings.Contains(strings.ToLower(it.Description), q) {
			outItems = append(outItems, it)
		}
	}
	return outChars, outItems
}

// ImportCharacter 从资源库深拷贝到当前项目；已存在同 id 时不重复导入
func (s *Store) ImportCharacter(ctx context.Context, id string) (models.CharacterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.characterIndex(id); idx >= 0 {
		return s.state.Characters[idx].Clone(), nil
	}
	for _, c := range s.globalCharacters {
		if c.ID == id {
			local := c.Clone()
			s.state.Characters = append(s.state.Characters, local)
			return local.Clone(), s.PersistCharacterRoster(ctx, s.state.Characters)
		}
	}
	return models.CharacterProfile{}, fmt.Errorf("%w: library character %s", models.ErrCharacterNotFound, id)
}

func (s *Store) ImportItem(ctx context.Context, id string) (models.KeyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx := s.itemIndex(id); idx >= 0 {
		return s.state.Items[idx], nil
	}
	for _, it := range s.globalItems {
		if it.ID == id {
			s.state.Items = append(s.state.Items, it)
			return it, s.PersistItemRoster(ctx, s.state.Items)
		}
	}
	return models.KeyItem{}, fmt.Errorf("%w: library item %s", models.ErrItemNotFound, id)
}

// SaveCharacterToLibrary 把项目中的角色同步到资源库（按 id 覆盖）
func (s *Store) SaveCharacterToLibrary(ctx context.Context, id string) (models.CharacterProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.characterIndex(id)
	if idx < 0 {
		return models.CharacterProfile{}, fmt.Errorf("%w: %s", models.ErrCharacterNotFound, id)
	}
	entry := s.state.Characters[idx].Clone()
	entry.IsGlobal = true
	replaced := false
	for i := range s.globalCharacters {
		if s.globalCharacters[i].ID == id {
			s.globalCharacters[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.globalCharacters = append(s.globalCharacters, entry)
	}
	return entry.Clone(), s.PersistGlobalLibraries(ctx, s.globalCharacters, s.globalItems)
}

func (s *Store) SaveItemToLibrary(ctx context.Context, id string) (models.KeyItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.itemIndex(id)
	if idx < 0 {
		return models.KeyItem{}, fmt.Errorf("%w: %s", models.ErrItemNotFound, id)
	}
	entry := s.state.Items[idx]
	entry.IsGlobal = true
	replaced := false
	for i := range s.globalItems {
		if s.globalItems[i].ID == id {
			s.globalItems[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.globalItems = append(s.globalItems, entry)
	}
	return entry, s.PersistGlobalLibraries(ctx, s.globalCharacters, s.globalItems)
}

// DeleteFromLibrary 批量删除；不存在的 id 忽略
func (s *Store) DeleteFromLibrary(ctx context.Context, characterIDs, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	drop := make(map[string]bool, len(characterIDs))
	for _, id := range characterIDs {
		drop[id] = true
	}
	var chars []models.CharacterProfile
	for _, c := range s.globalCharacters {
		if !drop[c.ID] {
			chars = append(chars, c)
		}
	}
	dropItems := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		dropItems[id] = true
	}
	var items []models.KeyItem
	for _, it := range s.globalItems {
		if !dropItems[it.ID] {
			items = append(items, it)
		}
	}
	if len(chars) == len(s.globalCharacters) && len(items) == len(s.globalItems) {
		return nil
	}
	s.globalCharacters, s.globalItems = chars, items
	return s.PersistGlobalLibraries(ctx, chars, items)
}
