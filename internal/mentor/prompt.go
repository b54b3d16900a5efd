package mentor

import (
	"fmt"
	"strings"

	"github.com/narratex/loom/internal/content"
)

// BuildCorrectionPrompt assembles the single correction request: the
// original output, the concrete issues found, and the context the corrected
// output must stay consistent with.
func BuildCorrectionPrompt(outputData string, report Report, stageNumber int, contextPrompt string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Your previous %s output has quality issues that must be fixed.\n\n", content.StageName(stageNumber))

	sb.WriteString("[Previous Output]\n")
	sb.WriteString(outputData)
	sb.WriteString("\n\n[Issues Found]\n")
	for _, issue := range report.Issues {
		sb.WriteString("- " + issue + "\n")
	}

	if len(report.Suggestions) > 0 {
		sb.WriteString("\n[Suggestions]\n")
		for _, s := range report.Suggestions {
			sb.WriteString("- " + s + "\n")
		}
	}

	if contextPrompt != "" {
		sb.WriteString("\n[Established Context]\n")
		sb.WriteString(contextPrompt)
		sb.WriteString("\n")
	}

	sb.WriteString("\nRegenerate the complete output with every issue resolved. Keep everything that was already correct. Respond with the same JSON structure as before, and nothing else.")

	return sb.String()
}
