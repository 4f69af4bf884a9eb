package rdstation

import (
	"time"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/plugin"
)

// MapToOmni translates an RD Station payload into the canonical shape.
func (p *RDStation) MapToOmni(entity core.EntityType, externalData map[string]any) (*core.EntityData, error) {
	switch entity {
	case core.EntityContact:
		return mapContactToOmni(externalData), nil
	case core.EntityDeal:
		return mapDealToOmni(externalData), nil
	}
	return nil, core.Errorf(core.CodeEntityNotSupported, "entity %s mapping not implemented", entity)
}

// MapFromOmni translates an internal record into RD Station's shape.
func (p *RDStation) MapFromOmni(entity core.EntityType, internalData map[string]any) (map[string]any, error) {
	switch entity {
	case core.EntityContact:
		return mapContactFromOmni(internalData), nil
	case core.EntityDeal:
		return mapDealFromOmni(internalData), nil
	}
	return nil, core.Errorf(core.CodeEntityNotSupported, "entity %s mapping not implemented", entity)
}

func mapContactToOmni(rd map[string]any) *core.EntityData {
	phone := str(rd, "mobile_phone")
	if phone == "" {
		phone = str(rd, "personal_phone")
	}

	custom := map[string]any{
		"rdstation_uuid":       rd["uuid"],
		"rdstation_created_at": rd["created_at"],
		"rdstation_updated_at": rd["updated_at"],
	}
	if extra, ok := rd["custom_fields"].(map[string]any); ok {
		for k, v := range extra {
			custom[k] = v
		}
	}

	return &core.EntityData{
		Type: core.EntityContact,
		Data: map[string]any{
			"name":         str(rd, "name"),
			"email":        plugin.NormalizeEmail(str(rd, "email")),
			"phone":        plugin.NormalizePhone(phone),
			"companyName":  rd["company"],
			"position":     rd["job_title"],
			"city":         rd["city"],
			"state":        rd["state"],
			"country":      rd["country"],
			"tags":         tags(rd),
			"leadSource":   "rdstation",
			"leadStatus":   mapLeadStage(str(rd, "lead_stage")),
			"customFields": custom,
		},
		Metadata: metadataFrom(rd),
	}
}

func mapContactFromOmni(omni map[string]any) map[string]any {
	return map[string]any{
		"name":         omni["name"],
		"email":        omni["email"],
		"mobile_phone": omni["phone"],
		"company":      omni["companyName"],
		"job_title":    omni["position"],
		"city":         omni["city"],
		"state":        omni["state"],
		"country":      omni["country"],
		"tags":         tags(omni),
		"cf_omni_id":   omni["id"],
	}
}

func mapDealToOmni(rd map[string]any) *core.EntityData {
	title := str(rd, "name")
	if title == "" {
		title = firstProductName(rd)
	}
	if title == "" {
		title = "Deal from RDStation"
	}

	value, _ := rd["amount"].(float64)

	data := map[string]any{
		"title":       title,
		"value":       value,
		"currency":    "BRL",
		"stage":       mapDealStage(str(rd, "deal_stage_id")),
		"probability": rd["probability"],
		"customFields": map[string]any{
			"rdstation_id":         rd["id"],
			"rdstation_created_at": rd["created_at"],
		},
	}
	if due := str(rd, "prediction_date"); due != "" {
		data["expectedCloseDate"] = due
	}

	return &core.EntityData{
		Type:     core.EntityDeal,
		Data:     data,
		Metadata: metadataFrom(rd),
	}
}

func mapDealFromOmni(omni map[string]any) map[string]any {
	return map[string]any{
		"name":            omni["title"],
		"amount":          omni["value"],
		"prediction_date": omni["expectedCloseDate"],
		"cf_omni_id":      omni["id"],
	}
}

// mapLeadStage folds RD Station funnel stages into internal lead statuses.
func mapLeadStage(stage string) string {
	switch stage {
	case "Qualificado":
		return "qualified"
	case "Cliente":
		return "customer"
	default:
		return "new"
	}
}

// mapDealStage maps vendor pipeline stage ids; stages are account specific
// so unknown ids land on the default.
func mapDealStage(stageID string) string {
	return "proposal"
}

func metadataFrom(rd map[string]any) *core.EntityMetadata {
	meta := &core.EntityMetadata{Source: "rdstation"}
	if raw := str(rd, "updated_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.LastModified = &ts
		}
	}
	return meta
}

func firstProductName(rd map[string]any) string {
	products, _ := rd["deal_products"].([]any)
	if len(products) == 0 {
		return ""
	}
	first, _ := products[0].(map[string]any)
	return str(first, "name")
}

func tags(m map[string]any) []any {
	if t, ok := m["tags"].([]any); ok {
		return t
	}
	return []any{}
}

func str(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
