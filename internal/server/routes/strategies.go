package routes

import (
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/offline-hub/offline-hub/internal/cache"
	"github.com/offline-hub/offline-hub/internal/strategy"
)

// RegisterStrategyRoutes 暴露 /-/strategies 诊断接口，列出策略与分类规则。
func RegisterStrategyRoutes(app *fiber.App, classifier strategy.Classifier) {
	if app == nil {
		return
	}

	app.Get("/-/strategies", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"strategies": encodeProfiles(strategy.List()),
			"classifier": fiber.Map{
				"api_prefix":     classifier.APIPrefix,
				"static_segment": classifier.StaticSegment,
				"data_segment":   classifier.DataSegment,
			},
		})
	})

	app.Get("/-/strategies/:kind", func(c fiber.Ctx) error {
		kind := strings.ToLower(strings.TrimSpace(c.Params("kind")))
		if kind == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "strategy_required"})
		}
		profile, ok := strategy.Resolve(strategy.Kind(kind))
		if !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "strategy_not_found"})
		}
		return c.JSON(encodeProfile(profile))
	})
}

type profilePayload struct {
	Kind              string   `json:"kind"`
	Description       string   `json:"description"`
	Order             string   `json:"order"`
	ReadPartitions    []string `json:"read_partitions"`
	ReadScope         string   `json:"read_scope"`
	WritePartition    string   `json:"write_partition,omitempty"`
	StoreDestinations []string `json:"store_destinations,omitempty"`
}

func encodeProfiles(profiles []strategy.Profile) []profilePayload {
	if len(profiles) == 0 {
		return nil
	}
	result := make([]profilePayload, 0, len(profiles))
	for _, profile := range profiles {
		result = append(result, encodeProfile(profile))
	}
	return result
}

func encodeProfile(profile strategy.Profile) profilePayload {
	reads := make([]string, 0, len(profile.ReadKinds))
	for _, kind := range profile.ReadKinds {
		reads = append(reads, kindPrefix(kind))
	}
	payload := profilePayload{
		Kind:              string(profile.Kind),
		Description:       profile.Description,
		Order:             string(profile.Order),
		ReadPartitions:    reads,
		ReadScope:         string(profile.ReadScope),
		StoreDestinations: append([]string(nil), profile.StoreDestinations...),
	}
	if profile.Stores() {
		payload.WritePartition = kindPrefix(profile.WriteKind)
	}
	return payload
}

func kindPrefix(kind cache.Kind) string {
	return kind.Prefix() + "<version>"
}
