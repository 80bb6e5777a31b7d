package cli

import (
	"fmt"
	"strings"

	"github.com/Veraticus/budget-autocat/internal/model"
)

// RenderResult formats a categorization result for display.
func RenderResult(description string, result model.CategorizationResult) string {
	style := SuccessStyle
	switch {
	case result.Confidence == 0:
		style = ErrorStyle
	case result.CategoryKey == model.CategoryKeyOther:
		style = WarningStyle
	}

	lines := []string{
		SubtleStyle.Render("description: ") + description,
		SubtleStyle.Render("category:    ") + style.Render(result.CategoryKey),
		SubtleStyle.Render("confidence:  ") + style.Render(fmt.Sprintf("%.2f", result.Confidence)),
		SubtleStyle.Render("reasoning:   ") + result.Reasoning,
	}
	if result.IsAICategorized() {
		lines = append(lines, SuccessStyle.Render(RobotIcon+" AI categorized"))
	}

	return RenderBox("Categorization", strings.Join(lines, "\n"))
}

// RenderTransaction formats a stored transaction with its category, if any.
func RenderTransaction(txn model.Transaction, category *model.Category) string {
	categoryText := SubtleStyle.Render("uncategorized")
	if category != nil {
		categoryText = fmt.Sprintf("%s (%s)", category.Name, category.Key)
	}

	status := WarningStyle.Render(string(txn.CategorizationStatus))
	if txn.CategorizationStatus == model.CategorizationCompleted {
		status = SuccessStyle.Render(string(txn.CategorizationStatus))
	}

	lines := []string{
		SubtleStyle.Render("id:          ") + txn.ID,
		SubtleStyle.Render("description: ") + txn.Description,
		SubtleStyle.Render("amount:      ") + fmt.Sprintf("%.2f", txn.Amount),
		SubtleStyle.Render("date:        ") + txn.Date.Format("2006-01-02"),
		SubtleStyle.Render("category:    ") + categoryText,
		SubtleStyle.Render("status:      ") + status,
		SubtleStyle.Render("ai:          ") + fmt.Sprintf("%t", txn.IsAICategorized),
	}

	return RenderBox("Transaction", strings.Join(lines, "\n"))
}

// RenderCategories formats the category list as two columns.
func RenderCategories(categories []model.Category) string {
	if len(categories) == 0 {
		return FormatWarning("No categories found. Run 'autocat migrate' first.")
	}

	var sb strings.Builder
	sb.WriteString(FormatTitle(fmt.Sprintf("Categories (%d)", len(categories))))
	sb.WriteString("\n")
	for _, cat := range categories {
		sb.WriteString(KeyStyle.Render(cat.Key))
		sb.WriteString(cat.Name)
		sb.WriteString("\n")
	}
	return sb.String()
}
