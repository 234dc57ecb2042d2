package api

import (
	"net/http"

	"StoryboardStudio-server/models"

	"github.com/gin-gonic/gin"
)

// 当前编辑状态：GET /v1/api/state
func GetState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":      studio.Store().Snapshot(),
		"authorized": studio.Authorized(),
		"features":   studio.Features(),
		"styles":     models.VisualStyles,
	})
}

func NewProject(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"state": studio.NewProject()})
}

func SaveProject(c *gin.Context) {
	p, err := studio.Store().SaveActiveProject(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p.Summary()})
}

// 项目列表，最近保存的在前
func ListProjects(c *gin.Context) {
	projects := studio.Store().SavedProjects()
	c.JSON(http.StatusOK, gin.H{"projects": projects, "total": len(projects)})
}

func LoadProject(c *gin.Context) {
	st, err := studio.LoadProject(c.Request.Context(), c.Param("project_id"))
	if err != nil && st.Script == nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"state": st}
	if err != nil {
		// 项目已切换，只是角色/物品库没能写入持久化
		_, msg := statusFor(err)
		resp["warning"] = msg + ": " + err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func DeleteProject(c *gin.Context) {
	if err := studio.Store().DeleteProject(c.Request.Context(), c.Param("project_id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "项目已删除"})
}

func UpdateSettings(c *gin.Context) {
	var req models.FormatSettings
	if !bind(c, &req) {
		return
	}
	if err := studio.Store().SetFormat(req); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"formatSettings": req})
}

func UpdateReferences(c *gin.Context) {
	var req struct {
		Images []string `json:"images"`
	}
	if !bind(c, &req) {
		return
	}
	if err := studio.Store().SetReferenceImages(req.Images); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"referenceImages": req.Images})
}

// 引导模式：POST /v1/api/concept
func RefineConcept(c *gin.Context) {
	var req struct {
		models.ConceptInputs
		Language models.Language `json:"language"`
	}
	if !bind(c, &req) {
		return
	}
	concept, err := studio.RefineConcept(c.Request.Context(), req.ConceptInputs, req.Language)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"concept": concept})
}

func GenerateStoryboard(c *gin.Context) {
	var req struct {
		Seed     string          `json:"seed"`
		Language models.Language `json:"language"`
	}
	if !bind(c, &req) {
		return
	}
	st, err := studio.GenerateStoryboard(c.Request.Context(), req.Seed, req.Language)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st})
}
