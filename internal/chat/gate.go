package chat

import (
	"strings"

	"github.com/gradski-asistent/backend/internal/utils"
)

// escalationPhrases short-circuit a turn before any network activity. The
// comparison is case-insensitive and diacritic-stripped, so the list is kept
// in folded form.
var escalationPhrases = []string{
	"zelim prijaviti kvar",
	"prijava kvara",
	"zelim razgovarati s covjekom",
	"trebam razgovarati s osobom",
	"spojite me s operaterom",
	"trazim ljudsku podrsku",
	"zelim podnijeti zalbu",
}

func MatchesEscalationPhrase(text string) bool {
	folded := utils.FoldDiacritics(text)
	for _, phrase := range escalationPhrases {
		if strings.Contains(folded, phrase) {
			return true
		}
	}
	return false
}
