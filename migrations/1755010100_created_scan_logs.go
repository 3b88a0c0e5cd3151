package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_scanlogs0001",
			"name": "scan_logs",
			"type": "base",
			"system": false,
			"fields": [
				{
					"id": "text_event_id",
					"name": "event_id",
					"type": "text",
					"required": true,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_ticket_code",
					"name": "ticket_code",
					"type": "text",
					"required": true,
					"presentable": true,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "select_status",
					"name": "status",
					"type": "select",
					"required": true,
					"presentable": false,
					"maxSelect": 1,
					"values": [
						"valid",
						"used",
						"invalid",
						"error",
						"wrong_sector",
						"alert_required"
					]
				},
				{
					"id": "date_scanned_at",
					"name": "scanned_at",
					"type": "date",
					"required": true,
					"presentable": false,
					"min": "",
					"max": ""
				},
				{
					"id": "text_device_id",
					"name": "device_id",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_operator",
					"name": "operator",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "autodate_created",
					"name": "created",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": false
				}
			],
			"indexes": [
				"CREATE INDEX idx_scan_logs_event_time ON scan_logs (event_id, scanned_at)",
				"CREATE INDEX idx_scan_logs_event_code ON scan_logs (event_id, ticket_code)"
			],
			"listRule": null,
			"viewRule": null,
			"createRule": null,
			"updateRule": null,
			"deleteRule": null
		}`

		collection := &core.Collection{}
		if err := json.Unmarshal([]byte(jsonData), &collection); err != nil {
			return err
		}

		return app.Save(collection)
	}, func(app core.App) error {
		collection, err := app.FindCollectionByNameOrId("pbc_scanlogs0001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
