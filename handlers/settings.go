package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"quantumchat/middleware"
	"quantumchat/models"
)

var themes = map[string]bool{"system": true, "light": true, "dark": true}

// SettingsHandler stores per-user UI preferences in User.Preferences.
type SettingsHandler struct {
	db *gorm.DB
}

func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

func decodePreferences(raw datatypes.JSON) map[string]any {
	prefs := map[string]any{}
	if len(raw) > 0 {
		json.Unmarshal(raw, &prefs)
	}
	if _, ok := prefs["theme"]; !ok {
		prefs["theme"] = "system"
	}
	return prefs
}

func (h *SettingsHandler) Get(c *gin.Context) {
	var user models.User
	if err := h.db.WithContext(c.Request.Context()).First(&user, "id = ?", middleware.UserID(c)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}
	c.JSON(http.StatusOK, decodePreferences(user.Preferences))
}

// Update merges the given keys into the stored preferences. A null value
// removes the key.
func (h *SettingsHandler) Update(c *gin.Context) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if theme, ok := patch["theme"]; ok {
		s, isString := theme.(string)
		if !isString || !themes[s] {
			c.JSON(http.StatusBadRequest, gin.H{"error": "theme must be one of system, light, dark"})
			return
		}
	}

	db := h.db.WithContext(c.Request.Context())
	var user models.User
	if err := db.First(&user, "id = ?", middleware.UserID(c)).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	prefs := decodePreferences(user.Preferences)
	for k, v := range patch {
		if v == nil {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}
	data, err := json.Marshal(prefs)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	if err := db.Model(&user).Update("preferences", datatypes.JSON(data)).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save settings"})
		return
	}
	c.JSON(http.StatusOK, decodePreferences(datatypes.JSON(data)))
}
