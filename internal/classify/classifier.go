// Package classify maps free-text farmer queries onto the closed advisory
// category set via keyword scoring. Classification always terminates with a
// category: anything below the confidence threshold degrades to general.
package classify

import (
	"log/slog"
	"strings"

	"agriguard/internal/config"
	"agriguard/internal/domain"
)

// defaultKeywords are the per-category match lists. Operators can extend them
// through classifier.extraKeywords in the config.
var defaultKeywords = map[domain.Category][]string{
	domain.CategoryPest: {
		"pest", "insect", "bug", "caterpillar", "aphid", "worm",
		"disease", "fungus", "leaf", "leaves", "damage", "eating", "larva",
		"mite", "locust", "blight", "rot", "infestation",
	},
	domain.CategoryWeather: {
		"weather", "rain", "storm", "hail", "wind", "temperature",
		"frost", "drought", "flood", "climate", "monsoon", "forecast",
		"heatwave", "humidity",
	},
	domain.CategoryResource: {
		"water", "irrigation", "fertilizer", "fertiliser", "nutrient", "soil",
		"efficiency", "cost", "resource", "optimize", "seed", "pesticide dose",
		"electricity", "discount", "subsidy",
	},
	domain.CategoryMarket: {
		"price", "sell", "market", "buyer", "profit", "income",
		"harvest", "trade", "export", "mandi", "quintal", "rate",
	},
}

// urgencyKeywords raise a query's urgency level when present.
var urgencyKeywords = []string{
	"urgent", "emergency", "immediately", "tonight", "dying", "destroyed",
	"spreading", "multiplying", "fast", "help", "severe", "outbreak",
}

// baseUrgency reflects how time-critical each topic is on its own. Pest
// outbreaks and weather events can destroy a crop within hours; resource and
// market questions can wait.
var baseUrgency = map[domain.Category]int{
	domain.CategoryPest:     4,
	domain.CategoryWeather:  3,
	domain.CategoryResource: 1,
	domain.CategoryMarket:   1,
	domain.CategoryGeneral:  0,
}

const maxUrgency = 5

// Classifier scores query text against per-category keyword lists.
// It has no side effects and never fails.
type Classifier struct {
	keywords  map[domain.Category][]string // pre-lowered
	threshold float64
	logger    *slog.Logger
}

func New(cfg config.ClassifierConfig, logger *slog.Logger) *Classifier {
	keywords := make(map[domain.Category][]string, len(defaultKeywords))
	for cat, kws := range defaultKeywords {
		merged := make([]string, 0, len(kws))
		for _, kw := range kws {
			merged = append(merged, strings.ToLower(kw))
		}
		for _, kw := range cfg.ExtraKeywords[string(cat)] {
			merged = append(merged, strings.ToLower(kw))
		}
		keywords[cat] = merged
	}
	return &Classifier{
		keywords:  keywords,
		threshold: cfg.ConfidenceThreshold,
		logger:    logger,
	}
}

// Classify returns exactly one category from the closed set with a confidence
// in [0, 1]. Empty text and sub-threshold scores both resolve to general.
func (c *Classifier) Classify(text string) domain.CategoryResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.CategoryResult{Category: domain.CategoryGeneral, Confidence: 0}
	}

	lower := strings.ToLower(text)

	var best domain.Category
	var bestScore int
	// Iterate the fixed category order so keyword-count ties resolve
	// deterministically.
	for _, cat := range domain.Categories {
		kws, ok := c.keywords[cat]
		if !ok {
			continue
		}
		score := 0
		for _, kw := range kws {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = cat
		}
	}

	if bestScore == 0 {
		return domain.CategoryResult{Category: domain.CategoryGeneral, Confidence: 0}
	}

	// Saturating confidence: one keyword match is an even bet, each further
	// match raises it, never reaching 1.
	confidence := float64(bestScore) / float64(bestScore+1)

	if confidence < c.threshold {
		c.logger.Debug("classification below threshold, degrading to general",
			"candidate", best, "confidence", confidence, "threshold", c.threshold)
		return domain.CategoryResult{Category: domain.CategoryGeneral, Confidence: confidence}
	}

	c.logger.Debug("query classified", "category", best, "confidence", confidence, "matches", bestScore)
	return domain.CategoryResult{Category: best, Confidence: confidence}
}

// Urgency estimates how time-critical a query is on a 0-5 scale: the
// category's base level plus one per urgency keyword found in the text.
func (c *Classifier) Urgency(text string, category domain.Category) int {
	level := baseUrgency[category]

	lower := strings.ToLower(text)
	for _, kw := range urgencyKeywords {
		if strings.Contains(lower, kw) {
			level++
		}
	}

	if level > maxUrgency {
		level = maxUrgency
	}
	return level
}
