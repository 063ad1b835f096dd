package pto

import "github.com/warp/pto-service/record"

// Collection names.
const (
	Users          = "users"
	Teams          = "teams"
	Requests       = "pto_requests"
	DailySchedules = "pto_daily_schedules"
	Tasks          = "integration_tasks"
)

var timestamps = record.Schema{
	"created_at": record.TypeDateTime,
	"updated_at": record.TypeDateTime,
}

var snapshotFields = record.Schema{
	"requester_id":            record.TypeString,
	"requester_name":          record.TypeString,
	"requester_email":         record.TypeString,
	"manager_id":              record.TypeString,
	"manager_name":            record.TypeString,
	"manager_email":           record.TypeString,
	"executive_manager_id":    record.TypeString,
	"executive_manager_name":  record.TypeString,
	"executive_manager_email": record.TypeString,
}

// Schemas returns the registry of every collection the service stores.
func Schemas() *record.Registry {
	return record.NewRegistry(
		record.Collection{
			Name:     Users,
			Singular: "user",
			Fields: merge(timestamps, record.Schema{
				"user_id":                      record.TypeString,
				"account_id":                   record.TypeString,
				"display_name":                 record.TypeString,
				"email":                        record.TypeString,
				"team_memberships":             record.TypeJSON,
				"employment_type":              record.TypeString,
				"capacity":                     record.TypeNumber,
				"availability":                 record.TypeJSON,
				"is_admin":                     record.TypeBoolean,
				"is_manager":                   record.TypeBoolean,
				"is_executive_manager":         record.TypeBoolean,
				"pto_accounting":               record.TypeString,
				"pto_allocation":               record.TypeJSON,
				"used_pto_days_in_period":      record.TypeJSON,
				"remaining_pto_days_in_period": record.TypeJSON,
				"hire_date":                    record.TypeDate,
				"status":                       record.TypeString,
			}),
		},
		record.Collection{
			Name:     Teams,
			Singular: "team",
			Fields: merge(timestamps, record.Schema{
				"team_id":                 record.TypeString,
				"name":                    record.TypeString,
				"department":              record.TypeString,
				"business_unit":           record.TypeString,
				"manager_id":              record.TypeString,
				"manager_name":            record.TypeString,
				"manager_email":           record.TypeString,
				"executive_manager_id":    record.TypeString,
				"executive_manager_name":  record.TypeString,
				"executive_manager_email": record.TypeString,
			}),
		},
		record.Collection{
			Name:     Requests,
			Singular: "pto_request",
			Fields: merge(timestamps, snapshotFields, record.Schema{
				"pto_request_id": record.TypeString,
				"leave_type":     record.TypeString,
				"reason":         record.TypeText,
				"status":         record.TypeString,
				"start_date":     record.TypeDate,
				"end_date":       record.TypeDate,
				"total_days":     record.TypeNumber,
				"total_hours":    record.TypeNumber,
				"submitted_at":   record.TypeDateTime,
				"reviewed_at":    record.TypeDateTime,
				"reviewer_id":    record.TypeString,
				"decline_reason": record.TypeText,
			}),
		},
		record.Collection{
			Name:     DailySchedules,
			Singular: "pto_daily_schedule",
			Fields: merge(timestamps, snapshotFields, record.Schema{
				"pto_daily_schedule_id": record.TypeString,
				"pto_request_id":        record.TypeString,
				"date":                  record.TypeDate,
				"schedule_type":         record.TypeString,
				"leave_type":            record.TypeString,
				"hours":                 record.TypeNumber,
			}),
		},
		record.Collection{
			Name:     Tasks,
			Singular: "integration_task",
			Fields: merge(timestamps, record.Schema{
				"integration_task_id": record.TypeString,
				"event_type":          record.TypeString,
				"pto_request_id":      record.TypeString,
				"payload":             record.TypeJSON,
				"status":              record.TypeString,
				"attempts":            record.TypeNumber,
				"last_error":          record.TypeText,
				"delivered_at":        record.TypeDateTime,
			}),
		},
	)
}

func merge(schemas ...record.Schema) record.Schema {
	out := record.Schema{}
	for _, s := range schemas {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}
