package confirm8

import (
	"time"

	"github.com/omniplat/sync-core/internal/core"
	"github.com/omniplat/sync-core/internal/plugin"
)

// MapToOmni translates a Confirm8 payload into the canonical shape.
func (p *Confirm8) MapToOmni(entity core.EntityType, externalData map[string]any) (*core.EntityData, error) {
	switch entity {
	case core.EntityContact:
		return mapClientToOmni(externalData), nil
	case core.EntityAppointment:
		return mapAppointmentToOmni(externalData), nil
	}
	return nil, core.Errorf(core.CodeEntityNotSupported, "entity %s mapping not implemented", entity)
}

// MapFromOmni translates an internal record into Confirm8's shape.
func (p *Confirm8) MapFromOmni(entity core.EntityType, internalData map[string]any) (map[string]any, error) {
	switch entity {
	case core.EntityContact:
		return mapClientFromOmni(internalData), nil
	case core.EntityAppointment:
		return mapAppointmentFromOmni(internalData), nil
	}
	return nil, core.Errorf(core.CodeEntityNotSupported, "entity %s mapping not implemented", entity)
}

func mapClientToOmni(c8 map[string]any) *core.EntityData {
	name := str(c8, "name")
	if name == "" {
		name = str(c8, "full_name")
	}
	phone := str(c8, "phone")
	if phone == "" {
		phone = str(c8, "mobile")
	}

	return &core.EntityData{
		Type: core.EntityContact,
		Data: map[string]any{
			"name":    name,
			"email":   plugin.NormalizeEmail(str(c8, "email")),
			"phone":   plugin.NormalizePhone(phone),
			"address": c8["address"],
			"city":    c8["city"],
			"state":   c8["state"],
			"zipCode": c8["zip_code"],
			"tags":    tags(c8),
			"customFields": map[string]any{
				"confirm8_id":         c8["id"],
				"confirm8_notes":      c8["notes"],
				"confirm8_created_at": c8["created_at"],
				"confirm8_updated_at": c8["updated_at"],
			},
		},
		Metadata: metadataFrom(c8),
	}
}

func mapClientFromOmni(omni map[string]any) map[string]any {
	return map[string]any{
		"name":     omni["name"],
		"email":    omni["email"],
		"phone":    omni["phone"],
		"mobile":   omni["phone"],
		"address":  omni["address"],
		"city":     omni["city"],
		"state":    omni["state"],
		"zip_code": omni["zipCode"],
		"notes":    omni["notes"],
		"custom_data": map[string]any{
			"omni_id": omni["id"],
		},
	}
}

func mapAppointmentToOmni(c8 map[string]any) *core.EntityData {
	title := str(c8, "service_name")
	if title == "" {
		title = "Appointment"
	}

	return &core.EntityData{
		Type: core.EntityAppointment,
		Data: map[string]any{
			"clientId":    c8["client_id"],
			"title":       title,
			"description": c8["notes"],
			"startTime":   c8["start_time"],
			"endTime":     c8["end_time"],
			"status":      mapAppointmentStatus(str(c8, "status")),
			"location":    c8["location"],
			"customFields": map[string]any{
				"confirm8_id":          c8["id"],
				"confirm8_service_id":  c8["service_id"],
				"confirm8_staff_id":    c8["staff_id"],
				"confirm8_calendar_id": c8["calendar_id"],
			},
		},
		Metadata: metadataFrom(c8),
	}
}

func mapAppointmentFromOmni(omni map[string]any) map[string]any {
	return map[string]any{
		"service_name": omni["title"],
		"start_time":   omni["startTime"],
		"end_time":     omni["endTime"],
		"notes":        omni["description"],
		"status":       mapAppointmentStatus(str(omni, "status")),
		"location":     omni["location"],
		"custom_data": map[string]any{
			"omni_id": omni["id"],
		},
	}
}

// mapAppointmentStatus keeps the booking lifecycle vocabulary, defaulting
// unknown values to scheduled. Both systems use the same status names.
func mapAppointmentStatus(status string) string {
	switch status {
	case "scheduled", "confirmed", "cancelled", "completed", "no_show":
		return status
	default:
		return "scheduled"
	}
}

func metadataFrom(c8 map[string]any) *core.EntityMetadata {
	meta := &core.EntityMetadata{Source: "confirm8"}
	raw := str(c8, "updated_at")
	if raw == "" {
		raw = str(c8, "created_at")
	}
	if raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			meta.LastModified = &ts
		}
	}
	return meta
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
