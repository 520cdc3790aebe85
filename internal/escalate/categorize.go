package escalate

import (
	"strings"

	"github.com/gradski-asistent/backend/internal/utils"
)

const (
	CategorySpam      = "spam"
	CategoryKomunalno = "komunalno"
	CategoryVoda      = "voda"
	CategoryPromet    = "promet"
	CategoryDokumenti = "dokumenti"
	CategoryFinancije = "financije"
)

var departmentByCategory = map[string]string{
	CategoryKomunalno: "Komunalne djelatnosti",
	CategoryVoda:      "Vodoopskrba i odvodnja",
	CategoryPromet:    "Promet i parkiranje",
	CategoryDokumenti: "Opća uprava",
	CategoryFinancije: "Financije i naplata",
}

// categoryOrder fixes tie-breaking so scoring stays deterministic.
var categoryOrder = []string{
	CategoryKomunalno,
	CategoryVoda,
	CategoryPromet,
	CategoryDokumenti,
	CategoryFinancije,
}

// keywords are kept in folded (lowercase, diacritic-stripped) form.
var categoryKeywords = map[string][]string{
	CategoryKomunalno: {"kvar", "rasvjeta", "cesta", "rupa", "otpad", "smece", "kontejner", "klupa", "igraliste"},
	CategoryVoda:      {"voda", "vodovod", "curenje", "kanalizacija", "odvodnja", "hidrant"},
	CategoryPromet:    {"parkir", "semafor", "autobus", "promet", "zona", "pjesack"},
	CategoryDokumenti: {"potvrda", "izvadak", "osobna", "dokument", "prebivalist", "rodni list"},
	CategoryFinancije: {"racun", "porez", "naknada", "uplata", "dug", "kamata"},
}

var humanMarkers = []string{"hitno", "zalba", "covjek", "operater", "nezadovolj", "odgovorna osoba"}

var spamMarkers = []string{"kupite", "besplatno", "zaradite", "kliknite", "nagrada", "popust"}

// Categorize scores accumulated user text into a civic category and decides
// whether it independently signals a human. Spam wins outright: a spam hit
// suppresses category scoring entirely.
func Categorize(text string) (category string, needsHuman bool) {
	folded := utils.FoldDiacritics(text)

	if isSpam(folded) {
		return CategorySpam, false
	}

	best := ""
	bestScore := 0
	for _, cat := range categoryOrder {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(folded, kw) {
				score++
			}
		}
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}

	for _, marker := range humanMarkers {
		if strings.Contains(folded, marker) {
			needsHuman = true
			break
		}
	}
	return best, needsHuman
}

func isSpam(folded string) bool {
	score := 0
	if strings.Contains(folded, "http://") || strings.Contains(folded, "https://") {
		score += 2
	}
	for _, marker := range spamMarkers {
		if strings.Contains(folded, marker) {
			score++
		}
	}
	return score >= 2
}
