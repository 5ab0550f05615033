// Package rest exposes RegistryCore over the Confluent-compatible HTTP
// surface (spec §6), grounded on the teacher's gin router/route table and
// DTO shapes, rewired onto internal/registry.Registry and
// internal/rerrors instead of the teacher's flat schema.Registry and
// string-matched errors.
package rest

import (
	"log/slog"
	"net/http"
	"strconv"

	"schemaregistry/internal/keys"
	"schemaregistry/internal/providers"
	"schemaregistry/internal/registry"
	"schemaregistry/internal/rerrors"

	"github.com/gin-gonic/gin"
)

var core *registry.Registry

// Init wires the REST handlers to a RegistryCore instance.
func Init(r *registry.Registry) {
	slog.Info("initializing schema registry REST handlers")
	core = r
}

// SchemaRecord represents a stored schema record.
type SchemaRecord struct {
	Schema     string                 `json:"schema"`
	Subject    string                 `json:"subject,omitempty"`
	Version    int                    `json:"version,omitempty"`
	ID         int                    `json:"id"`
	SchemaType string                 `json:"schemaType,omitempty"`
	References []providers.Reference  `json:"references,omitempty"`
}

// SchemaRequest is the payload for registering or checking a schema.
type SchemaRequest struct {
	Schema     string                 `json:"schema"`
	SchemaType string                 `json:"schemaType,omitempty"`
	References []providers.Reference  `json:"references,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
	RuleSet    map[string]string      `json:"ruleSet,omitempty"`
}

// SchemaResponse returns the assigned schema ID.
type SchemaResponse struct {
	ID int `json:"id"`
}

// RegisterResponse returns the assigned schema ID and version, the shape
// used for internal leader-forwarding responses.
type RegisterResponse struct {
	ID      int `json:"id"`
	Version int `json:"version"`
}

// CompatibilityResponse indicates compatibility result.
type CompatibilityResponse struct {
	IsCompatible bool     `json:"is_compatible"`
	Messages     []string `json:"messages,omitempty"`
}

// ConfigRequest updates compatibility/metadata/ruleSet policy.
type ConfigRequest struct {
	Compatibility      string            `json:"compatibility,omitempty"`
	CompatibilityGroup string            `json:"compatibilityGroup,omitempty"`
	DefaultMetadata    map[string]string `json:"defaultMetadata,omitempty"`
	OverrideMetadata   map[string]string `json:"overrideMetadata,omitempty"`
	DefaultRuleSet     map[string]string `json:"defaultRuleSet,omitempty"`
	OverrideRuleSet    map[string]string `json:"overrideRuleSet,omitempty"`
}

// ConfigResponse returns the effective config.
type ConfigResponse struct {
	CompatibilityLevel string `json:"compatibilityLevel"`
}

// ModeRequest sets a subject's (or the global) mode.
type ModeRequest struct {
	Mode string `json:"mode"`
}

// ModeResponse returns the effective mode.
type ModeResponse struct {
	Mode string `json:"mode"`
}

// ErrorResponse represents an error message in the registry's wire format.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// SetupRouter creates and configures a Gin router with all schema registry routes.
func SetupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())

	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Content-Type", "application/vnd.schemaregistry.v1+json")
		c.Next()
	})

	r.GET("/subjects", handleSubjects)

	subjectGroup := r.Group("/subjects/:subject")
	{
		subjectGroup.GET("/versions", listVersions)
		subjectGroup.POST("/versions", registerSchema)
		subjectGroup.GET("/versions/:version", getSchema)
		subjectGroup.DELETE("/versions/:version", deleteSchemaVersion)
		subjectGroup.DELETE("", deleteSubject)
		subjectGroup.POST("", checkSchema)
	}

	r.GET("/schemas/ids/:id", getSchemaByID)

	r.POST("/compatibility/subjects/:subject/versions/:version", checkCompatibility)
	r.POST("/compatibility/subjects/:subject/versions", checkCompatibilityLatest)

	r.GET("/config", getGlobalConfig)
	r.PUT("/config", updateGlobalConfig)
	r.GET("/config/:subject", getSubjectConfig)
	r.PUT("/config/:subject", updateSubjectConfig)
	r.DELETE("/config/:subject", deleteSubjectConfig)

	r.GET("/mode", getGlobalMode)
	r.PUT("/mode", setGlobalMode)
	r.GET("/mode/:subject", getSubjectMode)
	r.PUT("/mode/:subject", setSubjectMode)
	r.DELETE("/mode/:subject", deleteSubjectMode)

	return r
}

// Routes returns an http.Handler for backward compatibility.
func Routes() http.Handler {
	return SetupRouter()
}

func writeError(c *gin.Context, err error) {
	re, ok := rerrors.As(err)
	if !ok {
		c.JSON(http.StatusInternalServerError, ErrorResponse{ErrorCode: 50000, Message: err.Error()})
		return
	}
	c.JSON(rerrors.HTTPStatus(re.Kind), ErrorResponse{ErrorCode: rerrors.ErrorCode(re.Kind), Message: re.Error()})
}

func schemaTypeOf(req SchemaRequest) providers.SchemaType {
	if req.SchemaType == "" {
		return providers.Avro
	}
	return providers.SchemaType(req.SchemaType)
}

func toSchemaRecord(v keys.SchemaValue) SchemaRecord {
	rec := SchemaRecord{
		Schema:     v.Schema,
		Subject:    v.Subject,
		Version:    v.Version,
		ID:         v.ID,
		References: v.References,
	}
	if v.SchemaType != string(providers.Avro) {
		rec.SchemaType = v.SchemaType
	}
	return rec
}

func registerInputFrom(subject string, req SchemaRequest) registry.RegisterInput {
	return registry.RegisterInput{
		Subject:    subject,
		Schema:     req.Schema,
		SchemaType: schemaTypeOf(req),
		References: req.References,
		Metadata:   req.Metadata,
		RuleSet:    req.RuleSet,
		ID:         -1,
	}
}

func handleSubjects(c *gin.Context) {
	deleted := c.Query("deleted") == "true"
	subjects := core.Subjects("", deleted)
	if subjects == nil {
		subjects = []string{}
	}
	c.JSON(http.StatusOK, subjects)
}

func registerSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	in := registerInputFrom(subject, req)
	in.Normalize = c.Query("normalize") == "true"

	id, version, err := core.RegisterOrForward(c.Request.Context(), in, c.Request.Header)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, RegisterResponse{ID: id, Version: version})
}

func getSchema(c *gin.Context) {
	subject := c.Param("subject")
	versionParam := c.Param("version")

	version := 0
	if versionParam != "" && versionParam != "latest" {
		v, err := strconv.Atoi(versionParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version"})
			return
		}
		version = v
	}

	v, ok := core.GetSchemaBySubjectVersion(subject, version)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40402, Message: "version not found"})
		return
	}

	c.JSON(http.StatusOK, toSchemaRecord(v))
}

func listVersions(c *gin.Context) {
	subject := c.Param("subject")
	deleted := c.Query("deleted") == "true"
	versions := core.GetVersions(subject, deleted)
	if versions == nil {
		versions = []int{}
	}
	c.JSON(http.StatusOK, versions)
}

func checkCompatibility(c *gin.Context) {
	subject := c.Param("subject")
	versionParam := c.Param("version")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	var against []int
	if versionParam == "latest" {
		if v, ok := core.GetSchemaBySubjectVersion(subject, 0); ok {
			against = []int{v.Version}
		}
	} else if v, err := strconv.Atoi(versionParam); err == nil {
		against = []int{v}
	}

	messages, err := core.CheckCompatibility(subject, registerInputFrom(subject, req), against)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: len(messages) == 0, Messages: messages})
}

func checkCompatibilityLatest(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	against := core.GetVersions(subject, false)
	messages, err := core.CheckCompatibility(subject, registerInputFrom(subject, req), against)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompatibilityResponse{IsCompatible: len(messages) == 0, Messages: messages})
}

func getGlobalConfig(c *gin.Context) {
	cfg := core.GetConfig("", false)
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: cfg.CompatibilityLevel})
}

func updateGlobalConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	newCfg := configFromRequest(req)
	if err := core.UpdateConfig(c.Request.Context(), "", newCfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func getSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")
	inScope := c.Query("defaultToGlobal") != "false"
	cfg := core.GetConfig(subject, inScope)
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: cfg.CompatibilityLevel})
}

func updateSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")

	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	newCfg := configFromRequest(req)
	if err := core.UpdateConfig(c.Request.Context(), subject, newCfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ConfigResponse{CompatibilityLevel: req.Compatibility})
}

func deleteSubjectConfig(c *gin.Context) {
	subject := c.Param("subject")
	if err := core.DeleteConfig(c.Request.Context(), subject); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func configFromRequest(req ConfigRequest) keys.ConfigValue {
	return keys.ConfigValue{
		CompatibilityLevel: req.Compatibility,
		CompatibilityGroup: req.CompatibilityGroup,
		DefaultMetadata:    req.DefaultMetadata,
		OverrideMetadata:   req.OverrideMetadata,
		DefaultRuleSet:     req.DefaultRuleSet,
		OverrideRuleSet:    req.OverrideRuleSet,
	}
}

func getGlobalMode(c *gin.Context) {
	c.JSON(http.StatusOK, ModeResponse{Mode: string(core.GetMode("", false))})
}

func setGlobalMode(c *gin.Context) {
	setMode(c, "")
}

func getSubjectMode(c *gin.Context) {
	subject := c.Param("subject")
	inScope := c.Query("defaultToGlobal") != "false"
	c.JSON(http.StatusOK, ModeResponse{Mode: string(core.GetMode(subject, inScope))})
}

func setSubjectMode(c *gin.Context) {
	setMode(c, c.Param("subject"))
}

func setMode(c *gin.Context, subject string) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}
	force := c.Query("force") == "true"
	if err := core.SetMode(c.Request.Context(), subject, keys.Mode(req.Mode), force); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ModeResponse{Mode: req.Mode})
}

func deleteSubjectMode(c *gin.Context) {
	subject := c.Param("subject")
	if err := core.DeleteSubjectMode(c.Request.Context(), subject); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

func getSchemaByID(c *gin.Context) {
	idParam := c.Param("id")
	id, err := strconv.Atoi(idParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid id"})
		return
	}

	contextHint := c.Query("subject")
	_, _, v, ok := core.GetSchemaByID(id, contextHint)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40403, Message: "schema not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"schema": v.Schema, "schemaType": v.SchemaType, "references": v.References})
}

func deleteSchemaVersion(c *gin.Context) {
	subject := c.Param("subject")
	versionParam := c.Param("version")
	permanent := c.Query("permanent") == "true"

	version, err := strconv.Atoi(versionParam)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42202, Message: "invalid version"})
		return
	}

	if err := core.DeleteSchemaVersion(c.Request.Context(), subject, version, permanent); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, version)
}

func deleteSubject(c *gin.Context) {
	subject := c.Param("subject")
	permanent := c.Query("permanent") == "true"

	versions, err := core.DeleteSubject(c.Request.Context(), subject, permanent)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, versions)
}

func checkSchema(c *gin.Context) {
	subject := c.Param("subject")

	var req SchemaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{ErrorCode: 42201, Message: "invalid JSON"})
		return
	}

	id, version, found, err := core.LookupSchemaUnderSubject(subject, req.Schema, schemaTypeOf(req), req.References, false)
	if err != nil {
		writeError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, ErrorResponse{ErrorCode: 40403, Message: "schema not found"})
		return
	}

	c.JSON(http.StatusOK, SchemaRecord{
		Schema:     req.Schema,
		Subject:    subject,
		Version:    version,
		ID:         id,
		SchemaType: req.SchemaType,
		References: req.References,
	})
}
