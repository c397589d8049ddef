package parser

import (
	"strings"

	"github.com/flowdeck-labs/flowdeck-go/internal/domain"
)

// inferStage resolves stage type and tool id with fixed precedence:
// (1) explicit tool-type field, (2) keyword match against the display
// label, (3) category/group hint, (4) generic catch-all with the tool left
// unresolved.
func inferStage(toolType, label, category string) (domain.StageType, string) {
	if stageType, toolID, ok := fromToolType(toolType); ok {
		return stageType, toolID
	}
	if stageType, toolID, ok := fromLabel(label); ok {
		return stageType, toolID
	}
	if hint := domain.NormalizeStageType(category); hint != domain.StageTypeGeneric || isExplicitGeneric(category) {
		return hint, ""
	}
	return domain.StageTypeGeneric, ""
}

func fromToolType(toolType string) (domain.StageType, string, bool) {
	switch normalize(toolType) {
	case "":
		return "", "", false
	case "jira":
		return domain.StageTypePlan, domain.ToolJira, true
	case "github":
		return domain.StageTypeCode, domain.ToolGitHub, true
	case "cpi", "sap", "cloudfoundry", "cloud foundry":
		return domain.StageTypeDeploy, domain.ToolPlatform, true
	}
	if explicit := domain.NormalizeStageType(toolType); explicit != domain.StageTypeGeneric || isExplicitGeneric(toolType) {
		return explicit, "", true
	}
	return "", "", false
}

func fromLabel(label string) (domain.StageType, string, bool) {
	normalized := normalize(label)
	if normalized == "" {
		return "", "", false
	}
	switch {
	case strings.Contains(normalized, "jira"):
		return domain.StageTypePlan, domain.ToolJira, true
	case strings.Contains(normalized, "deploy"),
		strings.Contains(normalized, "cloud foundry"),
		strings.Contains(normalized, "sap"),
		strings.Contains(normalized, "cpi"):
		return domain.StageTypeDeploy, domain.ToolPlatform, true
	case strings.Contains(normalized, "github"):
		return domain.StageTypeCode, domain.ToolGitHub, true
	case strings.Contains(normalized, "approval"), strings.Contains(normalized, "approve"):
		return domain.StageTypeApproval, "", true
	case strings.Contains(normalized, "release"):
		return domain.StageTypeRelease, "", true
	case strings.Contains(normalized, "build"):
		return domain.StageTypeBuild, "", true
	case strings.Contains(normalized, "test"):
		return domain.StageTypeTest, "", true
	}
	return "", "", false
}

func isExplicitGeneric(value string) bool {
	return normalize(value) == string(domain.StageTypeGeneric)
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
