package service

import (
	"strings"

	"product-management/internal/domain"
)

// Messages shown to the user after a successful change.

func CreatedMessage(p *domain.Product) string {
	return "Successfully added Product: " + p.Name
}

func SavedMessage() string {
	return "Successfully saved changes."
}

func DeletedMessage(deleted ...domain.DeletedSummary) string {
	names := make([]string, 0, len(deleted))
	for _, d := range deleted {
		names = append(names, d.Name)
	}
	return "Successfully deleted " + strings.Join(names, ", ")
}

// NothingSelectedMessage is shown when a batch delete is requested without
// any product.
const NothingSelectedMessage = "Please select at least one product to delete."
