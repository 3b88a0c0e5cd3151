package migrations

import (
	"encoding/json"

	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		jsonData := `{
			"id": "pbc_tickets0001",
			"name": "tickets",
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
					"id": "text_code",
					"name": "code",
					"type": "text",
					"required": true,
					"presentable": true,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_sector",
					"name": "sector",
					"type": "text",
					"required": false,
					"presentable": false,
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
						"available",
						"used",
						"standby"
					]
				},
				{
					"id": "date_used_at",
					"name": "used_at",
					"type": "date",
					"required": false,
					"presentable": false,
					"min": "",
					"max": ""
				},
				{
					"id": "text_source",
					"name": "source",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_source_id",
					"name": "source_id",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_owner_name",
					"name": "owner_name",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_email",
					"name": "email",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_phone",
					"name": "phone",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_document",
					"name": "document",
					"type": "text",
					"required": false,
					"presentable": false,
					"min": 0,
					"max": 0,
					"pattern": ""
				},
				{
					"id": "text_alert_message",
					"name": "alert_message",
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
				},
				{
					"id": "autodate_updated",
					"name": "updated",
					"type": "autodate",
					"onCreate": true,
					"onUpdate": true
				}
			],
			"indexes": [
				"CREATE UNIQUE INDEX idx_tickets_event_code ON tickets (event_id, code)",
				"CREATE INDEX idx_tickets_event_sector ON tickets (event_id, sector)",
				"CREATE INDEX idx_tickets_event_status ON tickets (event_id, status)"
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
		collection, err := app.FindCollectionByNameOrId("pbc_tickets0001")
		if err != nil {
			return err
		}

		return app.Delete(collection)
	})
}
