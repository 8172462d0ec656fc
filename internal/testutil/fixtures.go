package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/klaxonhq/klaxon/internal/catalog"
	"github.com/klaxonhq/klaxon/internal/template"
)

// BalanceEntries returns a small catalog: a latest-balance source and a
// transfer stream, keyed by target_key.
func BalanceEntries() []catalog.Entry {
	return []catalog.Entry{
		{
			CatalogID: "cat.balance_latest",
			Enabled:   true,
			Query: catalog.QuerySpec{
				Table: "balances",
				SQL:   "SELECT target_key, balance_latest, value_native FROM balances WHERE target_key IN (SELECT value FROM json_each(?))",
			},
			Params: []catalog.Param{
				{Name: "target_keys", Type: "string_list", Required: true},
				{Name: "as_of", Type: "timestamp", Required: false},
			},
			Schema: catalog.ResultSchema{
				Columns: []catalog.Column{
					{Name: "target_key", Type: "string"},
					{Name: "balance_latest", Type: "decimal"},
					{Name: "value_native", Type: "decimal"},
				},
				KeyColumns: []string{"target_key"},
			},
			Cache:    catalog.CachePolicy{TTLSecs: 60},
			Timeouts: catalog.Timeouts{QueryMS: 5000},
		},
		{
			CatalogID: "cat.transfers",
			Enabled:   true,
			Query: catalog.QuerySpec{
				Table: "transfers",
				SQL:   "SELECT target_key, transfer_count FROM transfers WHERE target_key IN (SELECT value FROM json_each(?))",
			},
			Params: []catalog.Param{
				{Name: "target_keys", Type: "string_list", Required: true},
			},
			Schema: catalog.ResultSchema{
				Columns: []catalog.Column{
					{Name: "target_key", Type: "string"},
					{Name: "transfer_count", Type: "int64"},
				},
				KeyColumns: []string{"target_key"},
			},
		},
	}
}

// Snapshot builds the fixture catalog snapshot.
func Snapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.NewSnapshot(BalanceEntries(), "v-test")
	require.NoError(t, err)
	return snap
}

// BalanceDraftJSON is a complete draft that binds cat.balance_latest and
// fires when the latest balance exceeds a threshold variable.
const BalanceDraftJSON = `{
  "template_id": "tpl_balance_alert",
  "template_version": 3,
  "name": "Large balance",
  "description": "Fires when the tracked balance exceeds the threshold.",
  "target_kind": "wallet",
  "scope": {"networks": ["mainnet"]},
  "signals": {
    "principals": [
      {"name": "balance_latest", "update_sources": [{"ref": "cat.balance_latest"}]}
    ]
  },
  "variables": [
    {"id": "threshold", "type": "decimal", "required": true}
  ],
  "trigger": {
    "evaluation_mode": "periodic",
    "cron_cadence_seconds": 300,
    "condition_ast": {
      "op": "gt",
      "left": "balance_latest",
      "right": "{{threshold}}"
    }
  },
  "notification": {
    "title_template": "Balance alert",
    "body_template": "Balance is {{balance_latest}}"
  }
}`

// BalanceDraft parses BalanceDraftJSON.
func BalanceDraft(t *testing.T) *template.Draft {
	t.Helper()
	d, err := template.ParseDraft([]byte(BalanceDraftJSON))
	require.NoError(t, err)
	return d
}
