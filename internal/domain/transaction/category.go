package transaction

import "strings"

type Category struct {
	ProviderName string `json:"providerName"`
	DisplayName  string `json:"displayName"`
}

// CategoryMapping maps provider personal-finance primary categories to the
// labels shown to users.
var CategoryMapping = map[string]Category{
	"INCOME":                    {ProviderName: "INCOME", DisplayName: "Income"},
	"TRANSFER_IN":               {ProviderName: "TRANSFER_IN", DisplayName: "Transfer In"},
	"TRANSFER_OUT":              {ProviderName: "TRANSFER_OUT", DisplayName: "Transfer Out"},
	"LOAN_PAYMENTS":             {ProviderName: "LOAN_PAYMENTS", DisplayName: "Loan Payments"},
	"BANK_FEES":                 {ProviderName: "BANK_FEES", DisplayName: "Bank Fees"},
	"ENTERTAINMENT":             {ProviderName: "ENTERTAINMENT", DisplayName: "Entertainment"},
	"FOOD_AND_DRINK":            {ProviderName: "FOOD_AND_DRINK", DisplayName: "Food & Drink"},
	"GENERAL_MERCHANDISE":       {ProviderName: "GENERAL_MERCHANDISE", DisplayName: "Shopping"},
	"HOME_IMPROVEMENT":          {ProviderName: "HOME_IMPROVEMENT", DisplayName: "Home Improvement"},
	"MEDICAL":                   {ProviderName: "MEDICAL", DisplayName: "Medical"},
	"PERSONAL_CARE":             {ProviderName: "PERSONAL_CARE", DisplayName: "Personal Care"},
	"GENERAL_SERVICES":          {ProviderName: "GENERAL_SERVICES", DisplayName: "Services"},
	"GOVERNMENT_AND_NON_PROFIT": {ProviderName: "GOVERNMENT_AND_NON_PROFIT", DisplayName: "Government & Non-Profit"},
	"TRANSPORTATION":            {ProviderName: "TRANSPORTATION", DisplayName: "Transportation"},
	"TRAVEL":                    {ProviderName: "TRAVEL", DisplayName: "Travel"},
	"RENT_AND_UTILITIES":        {ProviderName: "RENT_AND_UTILITIES", DisplayName: "Rent & Utilities"},
}

// TranslateCategory returns the display label for a provider category, or
// the input unchanged when no mapping exists.
func TranslateCategory(category string) string {
	if cat, ok := CategoryMapping[strings.ToUpper(category)]; ok {
		return cat.DisplayName
	}
	return category
}

// CategoryLabels builds the stored label list: the translated primary
// category first, then any legacy hierarchy labels, without duplicates.
func CategoryLabels(primary string, legacy []string) []string {
	labels := make([]string, 0, len(legacy)+1)
	seen := make(map[string]struct{}, len(legacy)+1)
	add := func(l string) {
		l = strings.TrimSpace(l)
		if l == "" {
			return
		}
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		labels = append(labels, l)
	}

	if primary != "" {
		add(TranslateCategory(primary))
	}
	for _, l := range legacy {
		add(l)
	}
	return labels
}
